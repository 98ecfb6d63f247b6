package snapshot

import (
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/bpindex/core/indexing/bptree"
)

// --- Test Helpers ---

func newTestTree(t *testing.T, order int, n int64) *bptree.Tree[int64, int64] {
	t.Helper()
	tree, err := bptree.New[int64, int64](order)
	require.NoError(t, err)
	for i := int64(0); i < n; i++ {
		tree.Insert(i*3, i%5)
	}
	return tree
}

func saveTestSnapshot(t *testing.T, compress bool) (string, *bptree.Tree[int64, int64], FileHeader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.bpx")
	tree := newTestTree(t, 5, 300)
	header, err := Save(path, tree, bptree.Int64Serializer(), compress)
	require.NoError(t, err)
	return path, tree, header
}

// rewrite applies fn to the raw bytes of the file at path.
func rewrite(t *testing.T, path string, fn func([]byte) []byte) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, fn(data), 0o644))
}

// --- Test Cases ---

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		path, tree, header := saveTestSnapshot(t, compress)

		assert.Equal(t, Magic, header.Magic)
		assert.Equal(t, Version, header.Version)
		assert.Equal(t, compress, header.Compressed())
		assert.Equal(t, uint32(5), header.Order)
		assert.Equal(t, uint64(300), header.Entries)
		assert.NotEqual(t, uuid.Nil, header.ID)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(HeaderSize)+int64(header.PayloadLen), info.Size())
		_, err = os.Stat(path + ".tmp")
		assert.ErrorIs(t, err, fs.ErrNotExist, "temporary file must be renamed away")

		loaded, loadedHeader, err := Load(path, bptree.Int64Serializer())
		require.NoError(t, err)
		assert.Equal(t, header, loadedHeader)
		assert.Equal(t, tree.Order(), loaded.Order())
		assert.Equal(t, tree.RangeSearch(-1, 1000), loaded.RangeSearch(-1, 1000))
		require.NoError(t, loaded.Verify())
	}
}

func TestSave_CompressionShrinksPayload(t *testing.T) {
	_, _, plain := saveTestSnapshot(t, false)
	_, _, packed := saveTestSnapshot(t, true)
	assert.Less(t, packed.PayloadLen, plain.PayloadLen)
}

func TestSave_ReplacesExistingSnapshot(t *testing.T) {
	path, _, first := saveTestSnapshot(t, true)

	smaller := newTestTree(t, 4, 10)
	second, err := Save(path, smaller, bptree.Int64Serializer(), true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	loaded, header, err := Load(path, bptree.Int64Serializer())
	require.NoError(t, err)
	assert.Equal(t, second.ID, header.ID)
	assert.Equal(t, 10, loaded.Len())
	assert.Equal(t, 4, loaded.Order())
}

func TestReadHeader(t *testing.T) {
	path, _, header := saveTestSnapshot(t, false)

	got, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, header, got)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, _, err := Load(filepath.Join(t.TempDir(), "nope.bpx"), bptree.Int64Serializer())
		require.ErrorIs(t, err, ErrIO)
		require.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("bad magic", func(t *testing.T) {
		path, _, _ := saveTestSnapshot(t, false)
		rewrite(t, path, func(b []byte) []byte {
			copy(b, "JUNK")
			return b
		})
		_, _, err := Load(path, bptree.Int64Serializer())
		require.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("unsupported version", func(t *testing.T) {
		path, _, _ := saveTestSnapshot(t, false)
		rewrite(t, path, func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[4:6], 99)
			return b
		})
		_, err := ReadHeader(path)
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		path, _, _ := saveTestSnapshot(t, true)
		rewrite(t, path, func(b []byte) []byte {
			b[len(b)-1] ^= 0xff
			return b
		})
		_, _, err := Load(path, bptree.Int64Serializer())
		require.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("truncated payload", func(t *testing.T) {
		path, _, _ := saveTestSnapshot(t, false)
		rewrite(t, path, func(b []byte) []byte { return b[:len(b)-10] })
		_, _, err := Load(path, bptree.Int64Serializer())
		require.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("truncated header", func(t *testing.T) {
		path, _, _ := saveTestSnapshot(t, false)
		rewrite(t, path, func(b []byte) []byte { return b[:20] })
		_, _, err := Load(path, bptree.Int64Serializer())
		require.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("header disagrees with image", func(t *testing.T) {
		path, _, _ := saveTestSnapshot(t, false)
		rewrite(t, path, func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[12:20], 7)
			return b
		})
		_, _, err := Load(path, bptree.Int64Serializer())
		require.ErrorIs(t, err, ErrCorruptSnapshot)
	})
}
