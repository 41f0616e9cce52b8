// Package differ compares the local and remote manifests.
package differ

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashmap"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
)

// Differ yields the artifacts that need fetching. Archives left in the
// staging directory for artifacts that are already installed are removed
// while diffing.
type Differ struct {
	stagingDir string
	log        *logging.Logger
}

// New returns a Differ that cleans stale archives from stagingDir.
func New(stagingDir string) *Differ {
	return &Differ{
		stagingDir: stagingDir,
		log:        logging.Get("differ"),
	}
}

// Diff lazily yields, in name order, every remote artifact whose digest is
// missing from local or differs from it. Each artifact is visited once per
// iteration; stale archive removal happens as up-to-date names are passed.
func (d *Differ) Diff(local, remote hashmap.Manifest) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, name := range remote.Names() {
			if local.Matches(name, remote[name]) {
				d.removeStale(name)
				continue
			}
			if !yield(name) {
				return
			}
		}
	}
}

func (d *Differ) removeStale(name string) {
	if d.stagingDir == "" {
		return
	}
	path := filepath.Join(d.stagingDir, name)
	err := os.Remove(path)
	switch {
	case err == nil:
		d.log.Info("removed stale archive", "archive", path)
	case errors.Is(err, fs.ErrNotExist):
	default:
		d.log.Warn("cannot remove stale archive", "archive", path, "error", err)
	}
}

// Plan is a read-only comparison of two manifests.
type Plan struct {
	// Pending lists artifacts to fetch, sorted.
	Pending []string
	// UpToDate lists artifacts already installed at the remote digest, sorted.
	UpToDate []string
	// Orphaned lists local entries no longer published remotely, sorted.
	Orphaned []string
}

// Total is the number of remote artifacts considered.
func (p Plan) Total() int {
	return len(p.Pending) + len(p.UpToDate)
}

// Compare builds a Plan without touching the filesystem.
func Compare(local, remote hashmap.Manifest) Plan {
	var p Plan
	for _, name := range remote.Names() {
		if local.Matches(name, remote[name]) {
			p.UpToDate = append(p.UpToDate, name)
		} else {
			p.Pending = append(p.Pending, name)
		}
	}
	for _, name := range local.Names() {
		if _, ok := remote[name]; !ok {
			p.Orphaned = append(p.Orphaned, name)
		}
	}
	return p
}
