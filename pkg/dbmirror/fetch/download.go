// Package fetch downloads archives from the remote repository into the
// staging directory, verifying each one while it streams.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/digest"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
)

// TempSuffix is appended to a target path while its download is in flight.
const TempSuffix = "_download"

// ErrIntegrity is returned when downloaded bytes do not match the expected digest.
var ErrIntegrity = errors.New("integrity check failed")

// WorkItem is one archive to fetch.
type WorkItem struct {
	// Name is the artifact name in the remote repository.
	Name string

	// Target is the staging path the archive is written to.
	Target string

	// ExpectedHash is the digest announced by the remote descriptor.
	ExpectedHash string
}

// Outcome describes how a successful download was satisfied.
type Outcome int

const (
	// OutcomeDownloaded means the bytes were fetched and verified.
	OutcomeDownloaded Outcome = iota
	// OutcomeAlreadyPresent means a verified copy was already staged.
	OutcomeAlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeAlreadyPresent:
		return "already-present"
	default:
		return "unknown"
	}
}

// FileHasher computes the digest of a file on disk.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Rememberer is implemented by hashers that can record a digest computed
// elsewhere, such as the one produced while streaming a download.
type Rememberer interface {
	Remember(path, sum string) error
}

// Downloader performs verified downloads.
type Downloader struct {
	algo   digest.Algorithm
	hasher FileHasher
	log    *logging.Logger
}

// NewDownloader returns a Downloader using algo. A nil hasher hashes files
// directly with algo.
func NewDownloader(algo digest.Algorithm, hasher FileHasher) *Downloader {
	if hasher == nil {
		hasher = algo
	}
	return &Downloader{
		algo:   algo,
		hasher: hasher,
		log:    logging.Get("fetch"),
	}
}

// Download makes item.Target hold bytes matching item.ExpectedHash. A target
// that already verifies is accepted without contacting the remote. Otherwise
// the artifact streams into Target+TempSuffix and is renamed over Target only
// when its digest matches. It returns the outcome and the bytes transferred.
func (d *Downloader) Download(ctx context.Context, session remote.Session, item WorkItem) (Outcome, int64, error) {
	if d.alreadyPresent(item) {
		d.log.Debug("already staged", "artifact", item.Name)
		return OutcomeAlreadyPresent, 0, nil
	}

	tmp := item.Target + TempSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, 0, fmt.Errorf("creating %s: %w", tmp, err)
	}

	sum := d.algo.NewWriter()
	n, err := session.Fetch(ctx, item.Name, io.MultiWriter(f, sum))
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, n, fmt.Errorf("downloading %s: %w", item.Name, err)
	}

	got := sum.Sum()
	if item.ExpectedHash != "" && !digest.Equal(got, item.ExpectedHash) {
		_ = os.Remove(tmp)
		return 0, n, fmt.Errorf("%w: %s: expected %s, got %s", ErrIntegrity, item.Name, item.ExpectedHash, got)
	}

	if err := os.Rename(tmp, item.Target); err != nil {
		_ = os.Remove(tmp)
		return 0, n, fmt.Errorf("renaming %s: %w", tmp, err)
	}

	if r, ok := d.hasher.(Rememberer); ok {
		if err := r.Remember(item.Target, got); err != nil {
			d.log.Debug("hash cache update failed", "artifact", item.Name, "error", err)
		}
	}

	d.log.Info("downloaded", "artifact", item.Name, "size", humanize.Bytes(uint64(n)))
	return OutcomeDownloaded, n, nil
}

func (d *Downloader) alreadyPresent(item WorkItem) bool {
	if item.ExpectedHash == "" {
		return false
	}

	got, err := d.hasher.HashFile(item.Target)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.log.Warn("cannot hash staged archive", "artifact", item.Name, "error", err)
		}
		return false
	}
	return digest.Equal(got, item.ExpectedHash)
}
