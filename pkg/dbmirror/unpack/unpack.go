// Package unpack extracts downloaded archives into the destination tree
// without shelling out.
package unpack

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/logging"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// destination directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Unpacker extracts archive into destDir.
type Unpacker interface {
	Unpack(ctx context.Context, archive, destDir string) error
}

// Func adapts a function to Unpacker.
type Func func(ctx context.Context, archive, destDir string) error

// Unpack implements Unpacker.
func (f Func) Unpack(ctx context.Context, archive, destDir string) error {
	return f(ctx, archive, destDir)
}

// Format is an archive layout recognised by suffix.
type Format int

const (
	// FormatRaw is copied into destDir unchanged.
	FormatRaw Format = iota
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarLZ4
	// FormatGzip is a single gzip-compressed file.
	FormatGzip
)

var formatNames = map[Format]string{
	FormatRaw:     "raw",
	FormatTar:     "tar",
	FormatTarGzip: "tar.gz",
	FormatTarZstd: "tar.zst",
	FormatTarLZ4:  "tar.lz4",
	FormatGzip:    "gz",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// Detect infers the format from the archive name.
func Detect(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGzip
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZstd
	case strings.HasSuffix(lower, ".tar.lz4"):
		return FormatTarLZ4
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".gz"):
		return FormatGzip
	default:
		return FormatRaw
	}
}

// Tar extracts tar archives (optionally gzip, zstd or lz4 compressed).
// Single .gz files are decompressed and anything else is copied as-is.
type Tar struct {
	log *logging.Logger
}

// NewTar returns a Tar unpacker.
func NewTar() *Tar {
	return &Tar{log: logging.Get("unpack")}
}

// Unpack implements Unpacker.
func (t *Tar) Unpack(ctx context.Context, archive, destDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	base := filepath.Base(archive)
	format := Detect(base)
	t.log.Debug("unpacking", "archive", base, "format", format, "dest", destDir)

	r := bufio.NewReaderSize(f, 1<<20)

	switch format {
	case FormatTar:
		return t.extractTar(ctx, r, destDir)
	case FormatTarGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("reading gzip header: %w", err)
		}
		defer zr.Close()
		return t.extractTar(ctx, zr, destDir)
	case FormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("opening zstd stream: %w", err)
		}
		defer zr.Close()
		return t.extractTar(ctx, zr, destDir)
	case FormatTarLZ4:
		return t.extractTar(ctx, lz4.NewReader(r), destDir)
	case FormatGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("reading gzip header: %w", err)
		}
		defer zr.Close()
		return writeFile(filepath.Join(destDir, strings.TrimSuffix(base, filepath.Ext(base))), zr, 0o644)
	default:
		return writeFile(filepath.Join(destDir, base), r, 0o644)
	}
}

func (t *Tar) extractTar(ctx context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			t.log.Debug("unpacked", "files", files, "dest", destDir)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := filepath.FromSlash(strings.TrimPrefix(hdr.Name, "./"))
		if name == "" || name == "." {
			continue
		}
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()|0o600); err != nil {
				return err
			}
			files++
		default:
			t.log.Debug("skipping entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

// writeFile streams r into path through a sibling temp file so readers never
// see a partially written database volume.
func writeFile(path string, r io.Reader, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, r)
	if err == nil {
		err = tmp.Chmod(perm)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
