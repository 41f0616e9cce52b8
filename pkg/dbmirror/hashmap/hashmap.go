// Package hashmap loads and saves the local manifest: the record of which
// artifacts have been installed and the content hash each was verified
// against.
//
// The file format is one record per line, name first:
//
//	<name>  <hex-digest>
//
// Lines are sorted by name on write and tokenized on any run of whitespace on
// read, so neither field may contain whitespace.
package hashmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrMalformed is returned when a manifest line cannot be parsed.
var ErrMalformed = errors.New("malformed manifest line")

// Record is one manifest entry.
type Record struct {
	Name string
	Hash string
}

// Manifest maps artifact name to content hash.
type Manifest map[string]string

// Clone returns a copy of the manifest.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for name, sum := range m {
		out[name] = sum
	}
	return out
}

// Names returns the artifact names in sorted order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns the entries sorted by name.
func (m Manifest) Records() []Record {
	names := m.Names()
	records := make([]Record, 0, len(names))
	for _, name := range names {
		records = append(records, Record{Name: name, Hash: m[name]})
	}
	return records
}

// Matches reports whether name is recorded with exactly sum.
func (m Manifest) Matches(name, sum string) bool {
	have, ok := m[name]
	return ok && have == sum
}

// Parse reads a manifest in the line format described in the package doc.
// Blank lines are skipped.
func Parse(r io.Reader) (Manifest, error) {
	m := make(Manifest)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w %d: want 2 fields, got %d", ErrMalformed, lineNo, len(fields))
		}
		m[fields[0]] = strings.ToLower(fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return m, nil
}

// Write serializes the manifest sorted by name.
func (m Manifest) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, rec := range m.Records() {
		if strings.ContainsAny(rec.Name, " \t\r\n") || strings.ContainsAny(rec.Hash, " \t\r\n") {
			return fmt.Errorf("record %q contains whitespace", rec.Name)
		}
		if _, err := fmt.Fprintf(bw, "%s  %s\n", rec.Name, rec.Hash); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Store persists a Manifest at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("manifest path cannot be empty")
	}
	return &Store{path: path}, nil
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the manifest. A missing file yields an empty manifest.
func (s *Store) Load() (Manifest, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(Manifest), nil
		}
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return m, nil
}

// Save writes the full manifest to a temp file and renames it over the
// manifest path, so readers see either the old or the new content.
func (s *Store) Save(m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := m.Write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		// Cleanup temp file on rename failure
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
