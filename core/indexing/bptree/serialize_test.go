package bptree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTree[K int64 | string, V int64 | string](t *testing.T, tree *Tree[K, V], s KeyValueSerializer[K, V]) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tree.Encode(&buf, s))
	return buf.Bytes()
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, order := range []int{2, 3, 4, 7, 32} {
		t.Run(fmt.Sprintf("order=%d", order), func(t *testing.T) {
			tree, _ := newTestTree[int64, int64](t, order)
			for i := int64(0); i < 500; i++ {
				tree.Insert((i*7919)%1000, -i)
			}
			for i := int64(0); i < 1000; i += 3 {
				tree.Delete(i)
			}
			require.NoError(t, tree.Verify())

			data := encodeTree(t, tree, Int64Serializer())
			got, err := Decode(bytes.NewReader(data), Int64Serializer())
			require.NoError(t, err)

			assert.Equal(t, tree.Order(), got.Order())
			assert.Equal(t, tree.Len(), got.Len())
			assert.Equal(t, tree.Height(), got.Height())
			assert.Equal(t, tree.RangeSearch(-1, 1000), got.RangeSearch(-1, 1000))
			assert.Equal(t, tree.String(), got.String(), "same shape")

			// The decoded tree keeps working.
			got.Insert(5000, 1)
			require.True(t, got.Delete(5000))
			require.NoError(t, got.Verify())
		})
	}
}

func TestEncodeDecode_EmptyTree(t *testing.T) {
	tree, _ := newTestTree[string, string](t, 5)

	got, err := Decode(bytes.NewReader(encodeTree(t, tree, StringSerializer())), StringSerializer())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, 5, got.Order())
	assert.Equal(t, 1, got.Height())
}

func TestEncodeDecode_Strings(t *testing.T) {
	tree, _ := newTestTree[string, string](t, 4)
	for i := 0; i < 100; i++ {
		tree.Insert(fmt.Sprintf("key-%03d", i), fmt.Sprintf("value %d", i))
	}

	got, err := Decode(bytes.NewReader(encodeTree(t, tree, StringSerializer())), StringSerializer())
	require.NoError(t, err)
	v, found := got.Search("key-042")
	require.True(t, found)
	assert.Equal(t, "value 42", v)
	assert.Equal(t, tree.Keys(), got.Keys())
}

func TestDecode_Truncated(t *testing.T) {
	tree, _ := newTestTree[int64, int64](t, 4)
	for i := int64(0); i < 50; i++ {
		tree.Insert(i, i)
	}
	data := encodeTree(t, tree, Int64Serializer())

	for _, cut := range []int{0, 3, 11, 12, len(data) / 2, len(data) - 1} {
		_, err := Decode(bytes.NewReader(data[:cut]), Int64Serializer())
		require.ErrorIs(t, err, ErrDeserialization, "cut at %d", cut)
	}
}

func TestDecode_RejectsBadImages(t *testing.T) {
	tree, _ := newTestTree[int64, int64](t, 4)
	for i := int64(0); i < 20; i++ {
		tree.Insert(i, i)
	}
	data := encodeTree(t, tree, Int64Serializer())

	t.Run("entry count mismatch", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint64(bad[4:12], 21)
		_, err := Decode(bytes.NewReader(bad), Int64Serializer())
		require.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("invalid order", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint32(bad[0:4], 1)
		_, err := Decode(bytes.NewReader(bad), Int64Serializer())
		require.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("order above maximum", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint32(bad[0:4], 70000)
		_, err := Decode(bytes.NewReader(bad), Int64Serializer())
		require.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("node over capacity", func(t *testing.T) {
		// A single order-4 leaf with three keys is over capacity at order 3.
		small, _ := newTestTree[int64, int64](t, 4)
		small.Insert(1, 1)
		small.Insert(2, 2)
		small.Insert(3, 3)
		bad := encodeTree(t, small, Int64Serializer())
		binary.LittleEndian.PutUint32(bad[0:4], 3)
		_, err := Decode(bytes.NewReader(bad), Int64Serializer())
		require.ErrorIs(t, err, ErrDeserialization)
	})

	t.Run("keys out of order", func(t *testing.T) {
		var buf bytes.Buffer
		write := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
		write(uint32(4))
		write(uint64(2))
		write(flagLeaf)
		write(uint16(2))
		for _, k := range []int64{9, 3} {
			write(uint16(8))
			write(k)
		}
		for _, v := range []int64{1, 2} {
			write(uint32(8))
			write(v)
		}
		_, err := Decode(&buf, Int64Serializer())
		require.ErrorIs(t, err, ErrDeserialization)
		require.ErrorIs(t, err, ErrCorruptTree)
	})
}

func TestSerializer_Validation(t *testing.T) {
	tree, _ := newTestTree[int64, int64](t, 4)

	err := tree.Encode(&bytes.Buffer{}, KeyValueSerializer[int64, int64]{})
	require.ErrorIs(t, err, ErrNilSerializer)

	_, err = Decode(&bytes.Buffer{}, KeyValueSerializer[int64, int64]{SerializeKey: SerializeInt64})
	require.ErrorIs(t, err, ErrNilSerializer)
}

func TestEncode_SerializerErrorIsWrapped(t *testing.T) {
	tree, _ := newTestTree[int64, int64](t, 4)
	tree.Insert(1, 1)

	boom := errors.New("boom")
	s := Int64Serializer()
	s.SerializeValue = func(int64) ([]byte, error) { return nil, boom }

	err := tree.Encode(&bytes.Buffer{}, s)
	require.ErrorIs(t, err, ErrSerialization)
	assert.Contains(t, err.Error(), "boom")
}

func TestEncode_RejectsNodeTooLargeForImage(t *testing.T) {
	tree, err := New[int64, int64](MaxOrder)
	require.NoError(t, err)
	const n = MaxOrder
	leaf := &leafNode[int64, int64]{keys: make([]int64, n), values: make([]int64, n)}
	for i := range leaf.keys {
		leaf.keys[i] = int64(i)
	}
	tree.root = leaf
	tree.size = n

	err = tree.Encode(&bytes.Buffer{}, Int64Serializer())
	require.ErrorIs(t, err, ErrSerialization)
	assert.Contains(t, err.Error(), "65536 keys")
}

func TestInt64Codec(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 62, -(1 << 62)} {
		b, err := SerializeInt64(v)
		require.NoError(t, err)
		require.Len(t, b, 8)
		got, err := DeserializeInt64(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := DeserializeInt64([]byte{1, 2, 3})
	require.Error(t, err)
}
