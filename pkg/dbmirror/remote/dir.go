package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Dir serves a local directory as a repository. It is used for mirrors that
// are already mounted (NFS, an rsync target) and in tests.
type Dir struct {
	Root string
}

// NewDir returns a Dir repository rooted at root, which must be a directory.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	return &Dir{Root: abs}, nil
}

// String implements Repository.
func (d *Dir) String() string {
	return "file://" + filepath.ToSlash(d.Root)
}

// Connect implements Repository. It fails if the root is not a directory.
func (d *Dir) Connect(_ context.Context) (Session, error) {
	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening %s: not a directory", d.Root)
	}
	return &dirSession{root: d.Root}, nil
}

type dirSession struct {
	root string
}

func (s *dirSession) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *dirSession) Fetch(ctx context.Context, name string, w io.Writer) (int64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("reading %s: %w", name, err)
	}
	return n, nil
}

func (s *dirSession) Close() error {
	return nil
}
