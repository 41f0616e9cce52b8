package logging

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize in bytes triggers rotation. Zero means 10MB.
	MaxSize int64

	// MaxAge in days removes older rotated files. Zero keeps them.
	MaxAge int

	// MaxBackups caps the number of rotated files. Zero keeps all.
	MaxBackups int

	// Daily also rotates on the first write of a new day.
	Daily bool
}

// DefaultRotationConfig returns the rotation defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 << 20,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

// backupStamp names rotated files; microseconds keep rapid rotations apart.
const backupStamp = "2006-01-02-150405.000000"

// RotatingWriter appends to a log file and moves it aside when it grows past
// MaxSize or the day changes. Each write holds an flock so concurrent
// dbmirror processes can share the file.
type RotatingWriter struct {
	path   string
	policy RotationConfig

	mu      sync.Mutex
	f       *os.File
	written int64
	day     time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories,
// and prunes backups that are already past the retention limits.
func NewRotatingWriter(path string, policy RotationConfig) (*RotatingWriter, error) {
	if policy.MaxSize <= 0 {
		policy.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, policy: policy}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.pruneBackups(time.Now())
	return w, nil
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}

	now := time.Now()
	if w.due(int64(len(p)), now) {
		if err := w.rotate(now); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	n, err := w.f.Write(p)
	_ = unix.Flock(fd, unix.LOCK_UN)

	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the file. It is idempotent; later writes fail with
// os.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing log file: %w", err)
	}
	return f.Close()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	w.f = f
	w.written = info.Size()
	w.day = info.ModTime()
	return nil
}

// due reports whether writing n more bytes at now requires a rotation.
// An empty file is never rotated for size, so oversized entries still land.
func (w *RotatingWriter) due(n int64, now time.Time) bool {
	if w.written > 0 && w.written+n > w.policy.MaxSize {
		return true
	}
	if !w.policy.Daily {
		return false
	}
	y, d := now.Year(), now.YearDay()
	return y != w.day.Year() || d != w.day.YearDay()
}

func (w *RotatingWriter) rotate(now time.Time) error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing current file: %w", err)
	}
	w.f = nil

	ext := filepath.Ext(w.path)
	backup := strings.TrimSuffix(w.path, ext) + "." + now.Format(backupStamp) + ext
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.day = now
	w.pruneBackups(now)
	return nil
}

type backup struct {
	path    string
	modTime time.Time
}

// backups lists rotated files of this log, newest first.
func (w *RotatingWriter) backups() []backup {
	dir, name := filepath.Split(w.path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext) + "."

	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		return nil
	}

	var out []backup
	for _, e := range entries {
		n := e.Name()
		if n == name || !e.Type().IsRegular() || !strings.HasPrefix(n, stem) || !strings.HasSuffix(n, ext) {
			continue
		}
		if _, err := time.Parse(backupStamp, strings.TrimSuffix(strings.TrimPrefix(n, stem), ext)); err != nil {
			continue
		}
		var info fs.FileInfo
		if info, err = e.Info(); err != nil {
			continue
		}
		out = append(out, backup{path: filepath.Join(dir, n), modTime: info.ModTime()})
	}

	slices.SortFunc(out, func(a, b backup) int { return b.modTime.Compare(a.modTime) })
	return out
}

// pruneBackups enforces MaxBackups and MaxAge. Failures are left for the next
// rotation to retry.
func (w *RotatingWriter) pruneBackups(now time.Time) {
	cutoff := now.AddDate(0, 0, -w.policy.MaxAge)
	for i, b := range w.backups() {
		overCount := w.policy.MaxBackups > 0 && i >= w.policy.MaxBackups
		expired := w.policy.MaxAge > 0 && b.modTime.Before(cutoff)
		if overCount || expired {
			_ = os.Remove(b.path)
		}
	}
}
