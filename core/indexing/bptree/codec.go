package bptree

import (
	"encoding/binary"
	"errors"
)

// KeyValueSerializer converts keys and values to and from bytes for Encode
// and Decode.
type KeyValueSerializer[K any, V any] struct {
	SerializeKey     func(K) ([]byte, error)
	DeserializeKey   func([]byte) (K, error)
	SerializeValue   func(V) ([]byte, error)
	DeserializeValue func([]byte) (V, error)
}

func (s KeyValueSerializer[K, V]) validate() error {
	if s.SerializeKey == nil || s.DeserializeKey == nil || s.SerializeValue == nil || s.DeserializeValue == nil {
		return ErrNilSerializer
	}
	return nil
}

// Int64Serializer handles the integer records the command line tools work with.
func Int64Serializer() KeyValueSerializer[int64, int64] {
	return KeyValueSerializer[int64, int64]{
		SerializeKey:     SerializeInt64,
		DeserializeKey:   DeserializeInt64,
		SerializeValue:   SerializeInt64,
		DeserializeValue: DeserializeInt64,
	}
}

// StringSerializer handles string keys and values.
func StringSerializer() KeyValueSerializer[string, string] {
	return KeyValueSerializer[string, string]{
		SerializeKey:     SerializeString,
		DeserializeKey:   DeserializeString,
		SerializeValue:   SerializeString,
		DeserializeValue: DeserializeString,
	}
}

func SerializeInt64(k int64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(k))
	return buf, nil
}

func DeserializeInt64(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, errors.New("int64 data must be 8 bytes")
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

func SerializeString(s string) ([]byte, error) {
	return []byte(s), nil
}

func DeserializeString(data []byte) (string, error) {
	return string(data), nil
}
