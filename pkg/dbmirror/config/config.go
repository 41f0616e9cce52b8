// Package config loads the dbmirror configuration record from a YAML file,
// DBMIRROR_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/digest"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/filter"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
)

// RemoteConfig selects the repository to mirror.
type RemoteConfig struct {
	URL      string        `mapstructure:"url"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Options converts to remote connection options.
func (r RemoteConfig) Options() remote.Options {
	return remote.Options{User: r.User, Password: r.Password, Timeout: r.Timeout}
}

// HashCacheConfig configures the on-disk digest cache.
type HashCacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// Config is the validated configuration record for one run.
type Config struct {
	DestDir          string          `mapstructure:"dest_dir"`
	StagingDir       string          `mapstructure:"staging_dir"`
	ManifestPath     string          `mapstructure:"manifest_path"`
	Include          []string        `mapstructure:"include"`
	Exclude          []string        `mapstructure:"exclude"`
	Workers          int             `mapstructure:"workers"`
	DescriptorSuffix string          `mapstructure:"descriptor_suffix"`
	Digest           string          `mapstructure:"digest"`
	Remote           RemoteConfig    `mapstructure:"remote"`
	HashCache        HashCacheConfig `mapstructure:"hash_cache"`
	Logging          LoggingConfig   `mapstructure:"logging"`

	algorithm digest.Algorithm
	rule      *filter.Rule
}

// Algorithm returns the parsed digest algorithm. Valid after Validate.
func (c *Config) Algorithm() digest.Algorithm {
	return c.algorithm
}

// Filter returns the compiled include/exclude rule. Valid after Validate.
func (c *Config) Filter() *filter.Rule {
	return c.rule
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dest_dir", "")
	v.SetDefault("staging_dir", "")
	v.SetDefault("manifest_path", "")
	v.SetDefault("include", DefaultInclude)
	v.SetDefault("exclude", []string{})
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("descriptor_suffix", DefaultSuffix)
	v.SetDefault("digest", DefaultDigest)

	v.SetDefault("remote.url", DefaultRemoteURL)
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.timeout", DefaultTimeout)

	v.SetDefault("hash_cache.enabled", true)
	v.SetDefault("hash_cache.path", "")

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{})
}

// New returns a viper instance with defaults, environment binding and the
// config search path set. An explicit cfgFile replaces the search path.
func New(cfgFile string) *viper.Viper {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", AppName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("dest_dir", EnvPrefix+"_DEST_DIR", BlastDBEnv)

	SetDefaults(v)
	return v
}

// Read loads the config file into v. A missing file in the search path is
// not an error; a missing explicit file is.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration from cfgFile (or the search path) and the
// environment.
func Load(cfgFile string) (*Config, error) {
	v := New(cfgFile)
	if err := Read(v); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Validate fills derived defaults and rejects invalid values. Staging and
// manifest paths default relative to DestDir; all paths become absolute.
func (c *Config) Validate() error {
	var err error

	if c.DestDir == "" {
		c.DestDir = DefaultDestDir
	}
	if c.DestDir, err = absPath(c.DestDir); err != nil {
		return fmt.Errorf("dest_dir: %w", err)
	}

	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(c.DestDir, DefaultStagingName)
	}
	if c.StagingDir, err = absPath(c.StagingDir); err != nil {
		return fmt.Errorf("staging_dir: %w", err)
	}

	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.StagingDir, DefaultManifestName)
	}
	if c.ManifestPath, err = absPath(c.ManifestPath); err != nil {
		return fmt.Errorf("manifest_path: %w", err)
	}

	if c.Workers < 1 {
		c.Workers = 1
	}

	if c.DescriptorSuffix == "" {
		c.DescriptorSuffix = DefaultSuffix
	}

	if c.algorithm, err = digest.Parse(c.Digest); err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	c.Digest = string(c.algorithm)

	if len(c.Include) == 0 {
		c.Include = DefaultInclude
	}
	if c.rule, err = filter.New(c.Include, c.Exclude); err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	if c.Remote.URL == "" {
		c.Remote.URL = DefaultRemoteURL
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = DefaultTimeout
	}

	if c.HashCache.Path == "" {
		c.HashCache.Path = DefaultHashCachePath()
	}
	if c.HashCache.Path, err = absPath(c.HashCache.Path); err != nil {
		return fmt.Errorf("hash_cache.path: %w", err)
	}

	if c.Logging.Rotation.MaxSize != "" {
		if _, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize); err != nil {
			return fmt.Errorf("logging.rotation.max_size: %w", err)
		}
	}

	return nil
}

// LogConfig converts the logging section for logging.Init. consoleLevel
// enables stderr output when non-empty.
func (c *Config) LogConfig(consoleLevel string) (logging.Config, error) {
	rot := logging.RotationConfig{
		MaxAge:     c.Logging.Rotation.MaxAge,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		Daily:      c.Logging.Rotation.Daily,
	}
	if c.Logging.Rotation.MaxSize != "" {
		n, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		rot.MaxSize = int64(n)
	}

	level := c.Logging.Level
	if level == "" {
		level = DefaultLogLevel
	}

	return logging.Config{
		Level:        level,
		Path:         c.Logging.Path,
		Rotation:     rot,
		Components:   c.Logging.Components,
		ConsoleLevel: consoleLevel,
	}, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func absPath(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
