// Package staging cleans up the staging directory: partial downloads left
// by interrupted runs are found and removed.
package staging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/fetch"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
)

// Leftover is a partial download found in the staging directory.
type Leftover struct {
	Path string
	Size int64
}

// Result reports a sweep.
type Result struct {
	Leftovers []Leftover
	Bytes     int64
	Errors    []error
}

// Sweep walks dir for files ending in fetch.TempSuffix. Unless dryRun is
// set they are removed. A missing dir is not an error.
func Sweep(ctx context.Context, dir string, dryRun bool) (*Result, error) {
	log := logging.Get("staging")
	res := &Result{}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}

	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			mu.Lock()
			res.Errors = append(res.Errors, walkErr)
			mu.Unlock()
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fetch.TempSuffix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // vanished while walking
		}

		var rmErr error
		if !dryRun {
			rmErr = os.Remove(path)
		}

		mu.Lock()
		defer mu.Unlock()
		if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			res.Errors = append(res.Errors, rmErr)
			return nil
		}
		res.Leftovers = append(res.Leftovers, Leftover{Path: path, Size: info.Size()})
		res.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return res, err
	}

	sort.Slice(res.Leftovers, func(i, j int) bool {
		return res.Leftovers[i].Path < res.Leftovers[j].Path
	})

	if len(res.Leftovers) > 0 {
		log.Info("partial downloads", "count", len(res.Leftovers), "size", humanize.Bytes(uint64(res.Bytes)), "dry_run", dryRun)
	}
	for _, e := range res.Errors {
		log.Warn("staging sweep", "error", e)
	}
	return res, nil
}
