// Package remote abstracts the repository being mirrored: something that can
// open a session, list the entries of one directory and stream an entry's
// bytes. Sessions are not safe for concurrent use; every worker opens its own.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by Fetch when the entry does not exist.
var ErrNotFound = errors.New("remote entry not found")

// Repository opens sessions against a remote file repository.
type Repository interface {
	// Connect opens a new session. Each call yields an independent session.
	Connect(ctx context.Context) (Session, error)

	// String describes the repository for log output.
	String() string
}

// Session is one connection to a repository.
type Session interface {
	// List returns the names of the entries in the repository directory.
	List(ctx context.Context) ([]string, error)

	// Fetch streams the named entry into w and returns the bytes written.
	Fetch(ctx context.Context, name string, w io.Writer) (int64, error)

	// Close releases the session.
	Close() error
}

// Options carries connection settings that are not part of the URL.
type Options struct {
	User     string
	Password string
	Timeout  time.Duration
}

// DefaultURL is the NCBI BLAST database directory.
const DefaultURL = "ftp://ftp.ncbi.nlm.nih.gov/blast/db"

// DefaultTimeout bounds connection establishment.
const DefaultTimeout = 30 * time.Second

// Open returns the repository for rawURL. Supported forms are
// ftp://host[:port]/dir, file:///dir and a bare local path.
func Open(rawURL string, opts Options) (Repository, error) {
	if rawURL == "" {
		return nil, errors.New("remote URL cannot be empty")
	}

	if !strings.Contains(rawURL, "://") {
		return openDir(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing remote URL: %w", err)
	}

	switch u.Scheme {
	case "ftp":
		f, err := newFTPFromURL(u, opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "file":
		return openDir(filepath.FromSlash(u.Path))
	default:
		return nil, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
	}
}

func openDir(root string) (Repository, error) {
	d, err := NewDir(root)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// validName rejects entry names that would escape the repository directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid entry name %q", name)
	}
	return nil
}
