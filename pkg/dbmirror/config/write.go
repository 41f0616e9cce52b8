package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ErrExists is returned by WriteDefault when the target file already exists.
var ErrExists = errors.New("config file already exists")

var defaultTemplate = template.Must(template.New("config").Parse(`# dbmirror configuration

# Directory the databases are unpacked into. Falls back to $BLASTDB, then
# the working directory.
dest_dir: {{ .DestDir | printf "%q" }}

# Downloaded archives are staged here until installed
# (default: <dest_dir>/{{ .StagingName }}).
staging_dir: ""

# Local manifest of installed archives
# (default: <staging_dir>/{{ .ManifestName }}).
manifest_path: ""

# Databases to mirror. Patterns match the database name, the part of an
# archive name before the first dot ("nr" for nr.00.tar.gz).
include:
  - "*"
exclude: []

# Concurrent downloads. Each worker opens its own connection.
workers: {{ .Workers }}

remote:
  url: {{ .RemoteURL }}
  user: ""
  password: ""
  timeout: {{ .Timeout }}

# Checksum descriptor suffix and the digest algorithm it uses
# (md5, sha1, sha256, blake3).
descriptor_suffix: "{{ .Suffix }}"
digest: {{ .Digest }}

# Remember digests of staged archives between runs.
hash_cache:
  enabled: true
  path: ""

logging:
  # debug, info, warn, error
  level: info
  # empty means $XDG_STATE_HOME/dbmirror/dbmirror.log
  path: ""
  rotation:
    max_size: {{ .MaxSize }}
    max_age: 30       # days
    max_backups: 5
    daily: true
  components: {}
`))

// WriteDefault writes an annotated default configuration to path, creating
// parent directories. destDir is recorded as dest_dir when non-empty. An
// existing file is never overwritten.
func WriteDefault(path, destDir string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var b strings.Builder
	err := defaultTemplate.Execute(&b, map[string]any{
		"DestDir":      destDir,
		"StagingName":  DefaultStagingName,
		"ManifestName": DefaultManifestName,
		"Workers":      DefaultWorkers,
		"RemoteURL":    DefaultRemoteURL,
		"Timeout":      DefaultTimeout.String(),
		"Suffix":       DefaultSuffix,
		"Digest":       DefaultDigest,
		"MaxSize":      DefaultLogMaxSize,
	})
	if err != nil {
		return fmt.Errorf("rendering default config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
