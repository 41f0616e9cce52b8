package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashcache"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/runlock"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/staging"
)

func newCleanCmd(a *app) *cobra.Command {
	var (
		dryRun    bool
		hashCache bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove interrupted downloads from the staging directory",
		Long: `Delete partial *_download files left in the staging directory by an
interrupted run. Installed databases and verified archives are not touched.

With --hash-cache the digest cache is emptied as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runClean(cmd, dryRun, hashCache)
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "list files without removing them")
	cmd.Flags().BoolVar(&hashCache, "hash-cache", false, "also empty the digest cache")
	return cmd
}

func (a *app) runClean(cmd *cobra.Command, dryRun, purgeCache bool) error {
	cfg := a.cfg

	// A running sync owns its temp files.
	lock, err := runlock.Acquire(filepath.Join(cfg.StagingDir, runlock.FileName))
	if err != nil {
		return err
	}
	defer lock.Release()

	res, err := staging.Sweep(cmd.Context(), cfg.StagingDir, dryRun)
	if err != nil {
		return err
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	for _, l := range res.Leftovers {
		a.printVerbose("%s %s (%s)", verb, l.Path, humanize.Bytes(uint64(l.Size)))
	}
	a.printInfo("%s %d partial download(s), %s", verb, len(res.Leftovers), humanize.Bytes(uint64(res.Bytes)))
	for _, e := range res.Errors {
		a.printError("%v", e)
	}

	if purgeCache && !dryRun {
		cache, err := hashcache.Open(cfg.HashCache.Path, cfg.Algorithm())
		if err != nil {
			return fmt.Errorf("opening hash cache: %w", err)
		}
		n, err := cache.Purge()
		if closeErr := cache.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("purging hash cache: %w", err)
		}
		a.printInfo("Forgot %d cached digest(s)", n)
	}
	return nil
}
