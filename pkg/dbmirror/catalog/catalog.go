// Package catalog builds the remote manifest from the checksum descriptors
// published next to each archive.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/digest"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/filter"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/hashmap"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/remote"
)

// DefaultSuffix marks checksum descriptors in the remote listing.
const DefaultSuffix = ".md5"

// ErrBadDescriptor is returned for descriptor content that is not
// "<hex digest> [filename]".
var ErrBadDescriptor = errors.New("malformed descriptor")

// Catalog reads descriptors through one remote session.
type Catalog struct {
	session remote.Session
	suffix  string
	log     *logging.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithSuffix sets the descriptor suffix.
func WithSuffix(suffix string) Option {
	return func(c *Catalog) {
		if suffix != "" {
			c.suffix = suffix
		}
	}
}

// New returns a Catalog reading through session.
func New(session remote.Session, opts ...Option) *Catalog {
	c := &Catalog{
		session: session,
		suffix:  DefaultSuffix,
		log:     logging.Get("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDescriptorNames returns every remote entry ending in the descriptor
// suffix, in listing order.
func (c *Catalog) ListDescriptorNames(ctx context.Context) ([]string, error) {
	entries, err := c.session.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e, c.suffix) && len(e) > len(c.suffix) {
			names = append(names, e)
		}
	}
	return names, nil
}

// FetchDescriptor downloads one descriptor and returns the artifact it
// describes with that artifact's digest. When the descriptor carries no
// filename the artifact is the descriptor name without its suffix.
func (c *Catalog) FetchDescriptor(ctx context.Context, name string) (artifact, sum string, err error) {
	var buf bytes.Buffer
	if _, err := c.session.Fetch(ctx, name, &buf); err != nil {
		return "", "", fmt.Errorf("fetching descriptor %s: %w", name, err)
	}

	artifact, sum, err = ParseDescriptor(buf.Bytes())
	if err != nil {
		return "", "", fmt.Errorf("descriptor %s: %w", name, err)
	}
	if artifact == "" {
		artifact = strings.TrimSuffix(name, c.suffix)
	}
	return artifact, sum, nil
}

// BuildRemoteManifest fetches the descriptor of every database accepted by
// rule. Databases are keyed by DatabaseName, so "nr.*" patterns are not
// needed to select the volumes of nr.
func (c *Catalog) BuildRemoteManifest(ctx context.Context, rule *filter.Rule) (hashmap.Manifest, error) {
	names, err := c.ListDescriptorNames(ctx)
	if err != nil {
		return nil, err
	}

	m := make(hashmap.Manifest)
	skipped := 0
	for _, name := range names {
		if rule != nil && !rule.Match(DatabaseName(name)) {
			skipped++
			continue
		}

		artifact, sum, err := c.FetchDescriptor(ctx, name)
		if err != nil {
			return nil, err
		}
		m[artifact] = sum
	}

	if len(m) == 0 {
		c.log.Warn("no databases selected", "descriptors", len(names), "filtered", skipped)
	} else {
		c.log.Info("remote manifest built", "artifacts", len(m), "filtered", skipped)
	}
	return m, nil
}

// ParseDescriptor parses md5sum-style content: a hex digest optionally
// followed by a filename, which may carry the "*" binary marker and a path.
func ParseDescriptor(data []byte) (artifact, sum string, err error) {
	fields := strings.Fields(string(data))
	switch len(fields) {
	case 1, 2:
	default:
		return "", "", fmt.Errorf("%w: want 1 or 2 fields, got %d", ErrBadDescriptor, len(fields))
	}

	sum = digest.Normalize(fields[0])
	if !digest.Valid(sum) {
		return "", "", fmt.Errorf("%w: %q is not a hex digest", ErrBadDescriptor, fields[0])
	}

	if len(fields) == 2 {
		artifact = path.Base(strings.TrimPrefix(fields[1], "*"))
		if artifact == "." || artifact == "/" || artifact == ".." {
			return "", "", fmt.Errorf("%w: invalid filename %q", ErrBadDescriptor, fields[1])
		}
	}
	return artifact, sum, nil
}

// DatabaseName returns the part of name before its first dot, which is how
// NCBI groups multi-volume databases ("nr.00.tar.gz.md5" -> "nr").
func DatabaseName(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
