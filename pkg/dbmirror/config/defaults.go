package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/catalog"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/digest"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
)

// AppName names the XDG subdirectories.
const AppName = "dbmirror"

// EnvPrefix prefixes environment overrides (DBMIRROR_WORKERS, ...).
const EnvPrefix = "DBMIRROR"

// BlastDBEnv is consulted for dest_dir when nothing else sets it.
const BlastDBEnv = "BLASTDB"

// Default values.
const (
	DefaultDestDir      = "."
	DefaultStagingName  = "archives"
	DefaultManifestName = "blastdb.md5"
	DefaultWorkers      = 1
	DefaultTimeout      = remote.DefaultTimeout
	DefaultRemoteURL    = remote.DefaultURL
	DefaultSuffix       = catalog.DefaultSuffix
	DefaultDigest       = string(digest.Default)
	DefaultLogLevel     = "info"
	DefaultLogMaxSize   = "10MB"
)

// DefaultInclude selects every database.
var DefaultInclude = []string{"*"}

// DefaultHashCachePath returns $XDG_CACHE_HOME/dbmirror/hashcache.
func DefaultHashCachePath() string {
	return filepath.Join(xdg.CacheHome, AppName, "hashcache")
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/dbmirror/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ConfigDir returns $XDG_CONFIG_HOME/dbmirror.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(xdg.ConfigHome, AppName)
}
