package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/config"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect dbmirror configuration settings.

Configuration is loaded from:
  1. --config, if given
  2. $XDG_CONFIG_HOME/dbmirror/config.yaml
  3. ~/.config/dbmirror/config.yaml

Environment variables override config file settings using the DBMIRROR_
prefix, and flags override both:
  DBMIRROR_DEST_DIR=/data/blast   (BLASTDB is also honored)
  DBMIRROR_WORKERS=4
  DBMIRROR_REMOTE_URL=ftp://ftp.ncbi.nlm.nih.gov/blast/db`,
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  a.runConfigShow,
	}

	configPathCmd := &cobra.Command{
		Use:         "path",
		Short:       "Show the configuration file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE:        a.runConfigPath,
	}

	configCmd.AddCommand(configShowCmd, configPathCmd)
	return configCmd
}

func (a *app) runConfigShow(_ *cobra.Command, _ []string) error {
	cfg := a.cfg
	w := a.out

	if file := a.v.ConfigFileUsed(); file != "" {
		fmt.Fprintf(w, "Config file: %s\n\n", file)
	} else {
		fmt.Fprintln(w, "Config file: (using defaults, no file found)")
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, titleStyle.Render("Current Configuration:"))
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "dest_dir:             %s\n", cfg.DestDir)
	fmt.Fprintf(w, "staging_dir:          %s\n", cfg.StagingDir)
	fmt.Fprintf(w, "manifest_path:        %s\n", cfg.ManifestPath)
	fmt.Fprintf(w, "include:              %v\n", cfg.Include)
	fmt.Fprintf(w, "exclude:              %v\n", cfg.Exclude)
	fmt.Fprintf(w, "workers:              %d\n", cfg.Workers)
	fmt.Fprintf(w, "remote.url:           %s\n", cfg.Remote.URL)
	fmt.Fprintf(w, "remote.timeout:       %s\n", cfg.Remote.Timeout)
	fmt.Fprintf(w, "descriptor_suffix:    %s\n", cfg.DescriptorSuffix)
	fmt.Fprintf(w, "digest:               %s\n", cfg.Algorithm())
	fmt.Fprintf(w, "hash_cache.enabled:   %t\n", cfg.HashCache.Enabled)
	fmt.Fprintf(w, "hash_cache.path:      %s\n", cfg.HashCache.Path)
	fmt.Fprintf(w, "logging.level:        %s\n", cfg.Logging.Level)

	fmt.Fprintln(w, "\nEnvironment Overrides:")
	fmt.Fprintln(w, "----------------------")
	anyOverrides := false
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if name != config.BlastDBEnv && !strings.HasPrefix(name, config.EnvPrefix+"_") {
			continue
		}
		if strings.Contains(name, "PASSWORD") {
			kv = name + "=********"
		}
		fmt.Fprintln(w, kv)
		anyOverrides = true
	}
	if !anyOverrides {
		fmt.Fprintln(w, "(none)")
	}
	return nil
}

func (a *app) runConfigPath(_ *cobra.Command, _ []string) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	fmt.Fprintln(a.out, path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		a.printVerbose("%s does not exist; run 'dbmirror init' to create it", path)
	}
	return nil
}
