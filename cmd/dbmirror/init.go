package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a default configuration file",
		Long: `Write an annotated default configuration file and create the database
and staging directories. dir becomes dest_dir; without it the --dest-dir flag
or $BLASTDB is used.

An existing configuration file is left unchanged.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipSetup: "true"},
		RunE:        a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	dest, _ := cmd.Flags().GetString("dest-dir")
	if len(args) > 0 {
		dest = args[0]
	}
	if dest == "" {
		dest = os.Getenv(config.BlastDBEnv)
	}
	if dest != "" {
		expanded, err := config.ExpandPath(dest)
		if err != nil {
			return err
		}
		if dest, err = filepath.Abs(expanded); err != nil {
			return fmt.Errorf("resolving %s: %w", expanded, err)
		}
	}

	path := a.cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	switch err := config.WriteDefault(path, dest); {
	case errors.Is(err, config.ErrExists):
		a.printInfo("Config file already exists: %s", path)
	case err != nil:
		return fmt.Errorf("failed to create config file: %w", err)
	default:
		a.printInfo("Created default config file: %s", path)
	}

	if dest == "" {
		return nil
	}
	for _, dir := range []string{dest, filepath.Join(dest, config.DefaultStagingName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		a.printVerbose("Created %s", dir)
	}
	a.printInfo("Databases will be mirrored into %s", dest)
	return nil
}
