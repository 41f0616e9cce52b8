// Package install unpacks verified archives into the destination tree and
// records each one in the local manifest.
package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/fetch"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashmap"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/unpack"
)

// Installer owns the local manifest for the duration of a run. It is not
// safe for concurrent use; the sync coordinator calls it from one goroutine.
type Installer struct {
	destDir  string
	unpacker unpack.Unpacker
	store    *hashmap.Store
	local    hashmap.Manifest
	forget   Forgetter
	log      *logging.Logger
}

// Forgetter drops what is cached about a file. hashcache.Cache implements it.
type Forgetter interface {
	Forget(path string) error
}

// Option configures an Installer.
type Option func(*Installer)

// WithForgetter makes the Installer forget each archive it deletes.
func WithForgetter(f Forgetter) Option {
	return func(in *Installer) { in.forget = f }
}

// New returns an Installer that extracts into destDir and persists local
// through store after every install.
func New(destDir string, u unpack.Unpacker, store *hashmap.Store, local hashmap.Manifest, opts ...Option) *Installer {
	if local == nil {
		local = hashmap.Manifest{}
	}
	in := &Installer{
		destDir:  destDir,
		unpacker: u,
		store:    store,
		local:    local,
		log:      logging.Get("install"),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Install unpacks item.Target. On success the manifest entry is written and
// saved before the archive is deleted, so a crash in between leaves only a
// redundant archive. On failure the archive stays staged and the manifest is
// untouched.
func (in *Installer) Install(ctx context.Context, item fetch.WorkItem) error {
	if err := in.unpacker.Unpack(ctx, item.Target, in.destDir); err != nil {
		in.log.Error("unpack failed, archive kept", "artifact", item.Name, "archive", item.Target, "error", err)
		return fmt.Errorf("unpacking %s: %w", item.Name, err)
	}

	prev, had := in.local[item.Name]
	in.local[item.Name] = item.ExpectedHash
	if err := in.store.Save(in.local); err != nil {
		if had {
			in.local[item.Name] = prev
		} else {
			delete(in.local, item.Name)
		}
		in.log.Error("saving manifest failed", "artifact", item.Name, "error", err)
		return fmt.Errorf("recording %s: %w", item.Name, err)
	}

	if err := os.Remove(item.Target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		in.log.Warn("cannot remove installed archive", "archive", item.Target, "error", err)
	} else if in.forget != nil {
		if err := in.forget.Forget(item.Target); err != nil {
			in.log.Debug("forgetting cached digest", "archive", item.Target, "error", err)
		}
	}

	in.log.Info("installed", "artifact", item.Name)
	return nil
}
