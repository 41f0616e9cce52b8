package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashcache"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/syncer"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Bring the local databases up to date",
		Long: `Fetch every archive whose remote checksum differs from the local manifest,
verify it, unpack it into the database directory and record it.

Per-archive failures are reported and retried on the next run; the command
only fails when the run cannot proceed (lock held, repository unreachable,
unreadable manifest).`,
		Args: cobra.NoArgs,
		RunE: a.runSync,
	}
}

func (a *app) runSync(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg

	repo, err := remote.Open(cfg.Remote.URL, cfg.Remote.Options())
	if err != nil {
		return err
	}

	var opts []syncer.Option
	if cfg.HashCache.Enabled {
		cache, err := hashcache.Open(cfg.HashCache.Path, cfg.Algorithm())
		if err != nil {
			a.log.Warn("hash cache unavailable, hashing staged archives directly", "path", cfg.HashCache.Path, "error", err)
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					a.log.Warn("closing hash cache", "error", err)
				}
			}()
			opts = append(opts, syncer.WithHasher(cache))
		}
	}

	a.printVerbose("Syncing %s into %s with %d worker(s)", repo, cfg.DestDir, cfg.Workers)
	report, err := syncer.New(cfg, repo, opts...).Run(cmd.Context())
	if report != nil && !a.quiet {
		printReport(a.out, report)
	}
	return err
}
