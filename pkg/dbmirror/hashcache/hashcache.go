// Package hashcache remembers file digests keyed by path, size and mtime so
// staged archives are not rehashed on every run.
package hashcache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/digest"
)

// Version is bumped when the entry encoding changes.
const Version = 1

const keySeparator = '\x00'

// Entry is one cached digest.
type Entry struct {
	Version int
	Size    int64
	Mtime   int64 // UnixNano
	Sum     string
}

func (e *Entry) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Entry) decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// fresh reports whether the entry still describes info.
func (e *Entry) fresh(info os.FileInfo) bool {
	return e.Version == Version && e.Size == info.Size() && e.Mtime == info.ModTime().UnixNano()
}

// Cache is a badger-backed digest cache for one algorithm. It satisfies the
// fetch package's FileHasher and Rememberer interfaces and install.Forgetter.
type Cache struct {
	db   *badger.DB
	algo digest.Algorithm
}

// Open opens or creates the cache at dir.
func Open(dir string, algo digest.Algorithm) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating hash cache dir: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening hash cache: %w", err)
	}
	return &Cache{db: db, algo: algo}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) key(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return []byte(string(c.algo) + string(keySeparator) + abs), nil
}

func (c *Cache) get(key []byte) (*Entry, error) {
	var e Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(e.decode)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Cache) put(key []byte, e *Entry) error {
	value, err := e.encode()
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// HashFile returns the digest of path, reusing the cached value when the
// file's size and mtime are unchanged.
func (c *Cache) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	key, err := c.key(path)
	if err != nil {
		return "", err
	}

	if e, err := c.get(key); err == nil && e.fresh(info) {
		return e.Sum, nil
	} else if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("reading hash cache: %w", err)
	}

	sum, err := c.algo.File(path)
	if err != nil {
		return "", err
	}

	// The file may have changed while it was hashed; only cache a digest
	// that still matches what was stat'ed.
	if after, err := os.Stat(path); err == nil && after.Size() == info.Size() && after.ModTime().Equal(info.ModTime()) {
		_ = c.put(key, &Entry{Version: Version, Size: info.Size(), Mtime: info.ModTime().UnixNano(), Sum: sum})
	}
	return sum, nil
}

// Remember records sum for path as it is on disk now.
func (c *Cache) Remember(path, sum string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	key, err := c.key(path)
	if err != nil {
		return err
	}
	return c.put(key, &Entry{Version: Version, Size: info.Size(), Mtime: info.ModTime().UnixNano(), Sum: digest.Normalize(sum)})
}

// Forget drops the entry for path.
func (c *Cache) Forget(path string) error {
	key, err := c.key(path)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Purge drops every entry for this cache's algorithm and returns how many
// were removed.
func (c *Cache) Purge() (int, error) {
	prefix := []byte(string(c.algo) + string(keySeparator))
	var keys [][]byte

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}
