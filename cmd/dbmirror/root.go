package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/config"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
)

// skipSetup marks commands that run without loading the configuration.
const skipSetup = "dbmirror/skip-setup"

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"dest-dir":    "dest_dir",
	"staging-dir": "staging_dir",
	"manifest":    "manifest_path",
	"workers":     "workers",
	"include":     "include",
	"exclude":     "exclude",
	"remote":      "remote.url",
}

// app carries state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	verbose bool
	quiet   bool

	v   *viper.Viper
	cfg *config.Config
	log *logging.Logger

	out    io.Writer
	errOut io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "dbmirror",
		Short: "Mirror BLAST databases from an NCBI-style repository",
		Long: `dbmirror keeps a local copy of BLAST databases in sync with a remote
repository. Each run downloads only the archives whose published checksum
differs from the one recorded locally, verifies them, unpacks them into the
database directory and records them in a local manifest.

Examples:
  dbmirror                              # Sync every database into $BLASTDB
  dbmirror -d /data/blast -i 'nr*' -w 4 # Sync nr volumes with 4 connections
  dbmirror status                       # Show what the next run would fetch
  dbmirror clean                        # Remove interrupted downloads
  dbmirror init /data/blast             # Write a default config file`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE:              a.runSync,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dbmirror/config.yaml)")
	pf.StringP("dest-dir", "d", "", "database directory (default: $BLASTDB, then .)")
	pf.StringP("staging-dir", "a", "", "archive staging directory (default: <dest-dir>/archives)")
	pf.StringP("manifest", "H", "", "local manifest file (default: <staging-dir>/blastdb.md5)")
	pf.IntP("workers", "w", 0, "concurrent downloads (default 1)")
	pf.StringSliceP("include", "i", nil, "database patterns to mirror (can be specified multiple times)")
	pf.StringSliceP("exclude", "e", nil, "database patterns to skip (can be specified multiple times)")
	pf.String("remote", "", "repository URL: ftp://host/path, file:///path or a directory")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "errors only")
	pf.Bool("no-hash-cache", false, "do not use the staged archive digest cache")

	rootCmd.AddCommand(
		newSyncCmd(a),
		newInitCmd(a),
		newStatusCmd(a),
		newCleanCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logging.Close() }()
	return newRootCmd().ExecuteContext(ctx)
}

// setup loads the configuration and initializes logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	if cmd.Annotations[skipSetup] != "" {
		return nil
	}

	v := config.New(a.cfgFile)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}
	if noCache, _ := cmd.Flags().GetBool("no-hash-cache"); noCache {
		v.Set("hash_cache.enabled", false)
	}

	if err := config.Read(v); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	lc, err := cfg.LogConfig(a.consoleLevel())
	if err != nil {
		return err
	}
	lc.Console = a.errOut
	if err := logging.Init(lc); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	a.v, a.cfg = v, cfg
	a.log = logging.Get("cli")
	a.log.Debug("configuration loaded", "file", v.ConfigFileUsed(), "dest", cfg.DestDir)
	return nil
}

func (a *app) consoleLevel() string {
	switch {
	case a.quiet:
		return "error"
	case a.verbose:
		return "debug"
	default:
		return "info"
	}
}

// printVerbose prints a message if verbose mode is enabled.
func (a *app) printVerbose(format string, args ...interface{}) {
	if a.verbose && !a.quiet {
		fmt.Fprintf(a.errOut, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func (a *app) printInfo(format string, args ...interface{}) {
	if !a.quiet {
		fmt.Fprintf(a.out, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func (a *app) printError(format string, args ...interface{}) {
	fmt.Fprintf(a.errOut, "Error: "+format+"\n", args...)
}
