package digest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Algorithm
		wantErr bool
	}{
		{name: "empty uses default", input: "", want: MD5},
		{name: "md5", input: "md5", want: MD5},
		{name: "upper case", input: "SHA256", want: SHA256},
		{name: "padded", input: " blake3 ", want: BLAKE3},
		{name: "sha1", input: "sha1", want: SHA1},
		{name: "unknown", input: "crc32", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlgorithm_Sum(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", MD5.Sum([]byte("hello")))
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", SHA1.Sum([]byte("hello")))
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		SHA256.Sum([]byte("hello")))
	assert.Len(t, BLAKE3.Sum([]byte("hello")), 64)
}

func TestAlgorithm_HexLen(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 32, MD5.HexLen())
	assert.Equal(t, 40, SHA1.HexLen())
	assert.Equal(t, 64, SHA256.HexLen())
	assert.Equal(t, 64, BLAKE3.HexLen())
}

func TestAlgorithm_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	for _, algo := range Algorithms() {
		sum, err := algo.File(path)
		require.NoError(t, err)
		assert.Equal(t, algo.Sum([]byte("hello")), sum, algo.String())
	}

	_, err := MD5.File(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestAlgorithm_Reader(t *testing.T) {
	t.Parallel()

	sum, n, err := SHA256.Reader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, SHA256.Sum([]byte("hello")), sum)
}

func TestWriter(t *testing.T) {
	t.Parallel()

	w := MD5.NewWriter()
	_, err := w.Write([]byte("hel"))
	require.NoError(t, err)
	_, err = w.Write([]byte("lo"))
	require.NoError(t, err)

	assert.Equal(t, int64(5), w.Count())
	assert.Equal(t, MD5.Sum([]byte("hello")), w.Sum())
}

func TestEqualAndValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal("ABCDEF", "abcdef"))
	assert.True(t, Equal(" abcdef\n", "abcdef"))
	assert.False(t, Equal("abcdef", "abcdee"))

	assert.True(t, Valid("00ff"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("abc"))
	assert.False(t, Valid("zz"))
}
