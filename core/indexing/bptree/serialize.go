package bptree

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// --- Tree image ---
//
// Layout (little endian):
//
//	order   uint32
//	entries uint64
//	nodes in pre-order, each:
//	  flags   uint8 (bit 0 set for a leaf)
//	  numKeys uint16
//	  keys    numKeys x (uint16 length, bytes)
//	  values  leaves only, numKeys x (uint32 length, bytes)
//
// Internal nodes are followed by their numKeys+1 subtrees. Leaf links are
// not stored; Decode rebuilds them from the left-to-right order of leaves.

const (
	flagLeaf     byte = 1 << 0
	maxValueSize      = 64 << 20
)

// Encode writes a binary image of the tree to w.
func (t *Tree[K, V]) Encode(w io.Writer, s KeyValueSerializer[K, V]) error {
	if err := s.validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(t.order)); err != nil {
		return fmt.Errorf("%w: writing order: %v", ErrSerialization, err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(t.size)); err != nil {
		return fmt.Errorf("%w: writing entry count: %v", ErrSerialization, err)
	}

	stack := []node[K, V]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := encodeNode(bw, n, s); err != nil {
			return err
		}
		if in, ok := n.(*internalNode[K, V]); ok {
			for i := len(in.children) - 1; i >= 0; i-- {
				stack = append(stack, in.children[i])
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing: %v", ErrSerialization, err)
	}
	return nil
}

func encodeNode[K cmp.Ordered, V any](w io.Writer, n node[K, V], s KeyValueSerializer[K, V]) error {
	leaf, isLeafNode := n.(*leafNode[K, V])
	var flags byte
	if isLeafNode {
		flags |= flagLeaf
	}
	if err := binary.Write(w, binary.LittleEndian, flags); err != nil {
		return fmt.Errorf("%w: writing flags: %v", ErrSerialization, err)
	}
	keys := n.keyList()
	if len(keys) > math.MaxUint16 {
		return fmt.Errorf("%w: node of %d keys exceeds %d", ErrSerialization, len(keys), math.MaxUint16)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(keys))); err != nil {
		return fmt.Errorf("%w: writing numKeys: %v", ErrSerialization, err)
	}
	for _, k := range keys {
		data, err := s.SerializeKey(k)
		if err != nil {
			return fmt.Errorf("%w: serializing key: %v", ErrSerialization, err)
		}
		if len(data) > math.MaxUint16 {
			return fmt.Errorf("%w: key of %d bytes exceeds %d", ErrSerialization, len(data), math.MaxUint16)
		}
		if err := writeChunk(w, uint16(len(data)), data); err != nil {
			return err
		}
	}
	if !isLeafNode {
		return nil
	}
	for _, v := range leaf.values {
		data, err := s.SerializeValue(v)
		if err != nil {
			return fmt.Errorf("%w: serializing value: %v", ErrSerialization, err)
		}
		if len(data) > maxValueSize {
			return fmt.Errorf("%w: value of %d bytes exceeds %d", ErrSerialization, len(data), maxValueSize)
		}
		if err := writeChunk(w, uint32(len(data)), data); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk[L uint16 | uint32](w io.Writer, length L, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, length); err != nil {
		return fmt.Errorf("%w: writing length: %v", ErrSerialization, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: writing data: %v", ErrSerialization, err)
	}
	return nil
}

// Decode rebuilds a tree from an image written by Encode. The leaf chain is
// relinked and the result is checked with Verify before it is returned.
func Decode[K cmp.Ordered, V any](r io.Reader, s KeyValueSerializer[K, V], opts ...Option) (*Tree[K, V], error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	br := bufio.NewReader(r)

	var order uint32
	if err := binary.Read(br, binary.LittleEndian, &order); err != nil {
		return nil, fmt.Errorf("%w: reading order: %v", ErrDeserialization, err)
	}
	var entries uint64
	if err := binary.Read(br, binary.LittleEndian, &entries); err != nil {
		return nil, fmt.Errorf("%w: reading entry count: %v", ErrDeserialization, err)
	}
	if order > MaxOrder {
		return nil, fmt.Errorf("%w: order %d out of range", ErrDeserialization, order)
	}
	t, err := New[K, V](int(order), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}

	// Pending internal nodes still waiting for children, innermost last.
	type frame struct {
		n    *internalNode[K, V]
		want int
	}
	var (
		stack  []frame
		leaves []*leafNode[K, V]
		root   node[K, V]
		count  int
	)
	for {
		n, err := decodeNode(br, t.MaxKeys(), s)
		if err != nil {
			return nil, err
		}
		if root == nil {
			root = n
		} else {
			top := &stack[len(stack)-1]
			top.n.children = append(top.n.children, n)
			if len(top.n.children) == top.want {
				stack = stack[:len(stack)-1]
			}
		}
		switch x := n.(type) {
		case *leafNode[K, V]:
			leaves = append(leaves, x)
			count += len(x.keys)
		case *internalNode[K, V]:
			stack = append(stack, frame{n: x, want: len(x.keys) + 1})
		}
		if len(stack) == 0 {
			break
		}
	}

	for i := 0; i+1 < len(leaves); i++ {
		leaves[i].next = leaves[i+1]
	}
	t.root = root
	t.size = count
	if uint64(count) != entries {
		return nil, fmt.Errorf("%w: header reports %d entries, leaves hold %d", ErrDeserialization, entries, count)
	}
	if err := t.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	return t, nil
}

func decodeNode[K cmp.Ordered, V any](r io.Reader, maxKeys int, s KeyValueSerializer[K, V]) (node[K, V], error) {
	var flags byte
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("%w: reading flags: %v", ErrDeserialization, err)
	}
	var numKeys uint16
	if err := binary.Read(r, binary.LittleEndian, &numKeys); err != nil {
		return nil, fmt.Errorf("%w: reading numKeys: %v", ErrDeserialization, err)
	}
	if int(numKeys) > maxKeys {
		return nil, fmt.Errorf("%w: node holds %d keys, max is %d", ErrDeserialization, numKeys, maxKeys)
	}

	keys := make([]K, numKeys)
	for i := range keys {
		data, err := readChunk[uint16](r, math.MaxUint16)
		if err != nil {
			return nil, fmt.Errorf("%w: key %d: %v", ErrDeserialization, i, err)
		}
		if keys[i], err = s.DeserializeKey(data); err != nil {
			return nil, fmt.Errorf("%w: deserializing key %d: %v", ErrDeserialization, i, err)
		}
	}
	if flags&flagLeaf == 0 {
		return &internalNode[K, V]{keys: keys, children: make([]node[K, V], 0, len(keys)+1)}, nil
	}

	values := make([]V, numKeys)
	for i := range values {
		data, err := readChunk[uint32](r, maxValueSize)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %v", ErrDeserialization, i, err)
		}
		if values[i], err = s.DeserializeValue(data); err != nil {
			return nil, fmt.Errorf("%w: deserializing value %d: %v", ErrDeserialization, i, err)
		}
	}
	return &leafNode[K, V]{keys: keys, values: values}, nil
}

func readChunk[L uint16 | uint32](r io.Reader, limit int) ([]byte, error) {
	var length L
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if int(length) > limit {
		return nil, fmt.Errorf("length %d exceeds %d", length, limit)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
