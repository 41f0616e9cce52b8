// Package digest provides the content hash algorithms used to verify
// mirrored archives. The manifest and descriptor formats only ever carry the
// lowercase hex encoding of a digest, so swapping the algorithm does not
// change any on-disk format.
package digest

import (
	"crypto/md5"  //nolint:gosec // descriptor files are published as md5
	"crypto/sha1" //nolint:gosec // legacy mirrors publish sha1 descriptors
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	// MD5 is the digest NCBI publishes in its .md5 descriptor files.
	MD5 Algorithm = "md5"
	// SHA1 is accepted for mirrors that publish .sha1 descriptors.
	SHA1 Algorithm = "sha1"
	// SHA256 is accepted for mirrors that publish .sha256 descriptors.
	SHA256 Algorithm = "sha256"
	// BLAKE3 is the fastest option for self-hosted mirrors.
	BLAKE3 Algorithm = "blake3"
)

// Default is the algorithm used when none is configured.
const Default = MD5

// ErrUnknownAlgorithm is returned when an algorithm name is not recognized.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA1, SHA256, BLAKE3}
}

// Parse parses an algorithm name (case-insensitive). An empty name yields Default.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "":
		return Default, nil
	case MD5:
		return MD5, nil
	case SHA1:
		return SHA1, nil
	case SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// String returns the algorithm name.
func (a Algorithm) String() string {
	return string(a)
}

// New returns a fresh hasher. Unknown algorithms fall back to Default.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New() //nolint:gosec
	case SHA256:
		return sha256.New()
	case BLAKE3:
		return blake3.New()
	default:
		return md5.New() //nolint:gosec
	}
}

// HexLen is the length of the hex encoding of a digest.
func (a Algorithm) HexLen() int {
	return a.New().Size() * 2
}

// Sum returns the hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Reader hashes everything read from r and returns the hex digest and byte count.
func (a Algorithm) Reader(r io.Reader) (string, int64, error) {
	h := a.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File returns the hex digest of the file at path.
func (a Algorithm) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, _, err := a.Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// HashFile implements the fetch package's file hasher using no cache.
func (a Algorithm) HashFile(path string) (string, error) {
	return a.File(path)
}

// Normalize lowercases and trims a hex digest.
func Normalize(sum string) string {
	return strings.ToLower(strings.TrimSpace(sum))
}

// Equal reports whether two hex digests are the same, ignoring case.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Valid reports whether sum is a well-formed hex digest of any length.
func Valid(sum string) bool {
	if sum == "" || len(sum)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(sum)
	return err == nil
}

// Writer hashes bytes as they are written.
type Writer struct {
	h hash.Hash
	n int64
}

// NewWriter returns a Writer for the algorithm.
func (a Algorithm) NewWriter() *Writer {
	return &Writer{h: a.New()}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.h.Write(p)
	w.n += int64(n)
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// Count returns the number of bytes written.
func (w *Writer) Count() int64 {
	return w.n
}
