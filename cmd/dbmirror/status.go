package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/catalog"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/differ"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashmap"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which archives the next sync would fetch",
		Long: `Compare the local manifest with the remote checksums without downloading
archives or changing any local file.`,
		Args: cobra.NoArgs,
		RunE: a.runStatus,
	}
}

func (a *app) runStatus(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg
	ctx := cmd.Context()

	store, err := hashmap.NewStore(cfg.ManifestPath)
	if err != nil {
		return err
	}
	local, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading local manifest: %w", err)
	}

	repo, err := remote.Open(cfg.Remote.URL, cfg.Remote.Options())
	if err != nil {
		return err
	}
	session, err := repo.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", repo, err)
	}
	defer session.Close()

	remoteManifest, err := catalog.New(session, catalog.WithSuffix(cfg.DescriptorSuffix)).
		BuildRemoteManifest(ctx, cfg.Filter())
	if err != nil {
		return fmt.Errorf("building remote manifest: %w", err)
	}

	printPlan(a.out, repo.String(), differ.Compare(local, remoteManifest))
	return nil
}
