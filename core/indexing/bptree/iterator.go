package bptree

import (
	"cmp"
	"iter"
	"slices"
)

// Iterator walks the leaf chain over an inclusive key range. It is finite and
// cannot be rewound; call Tree.Range again for another pass.
//
//	it := tree.Range(10, 20)
//	for it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
type Iterator[K cmp.Ordered, V any] struct {
	leaf  *leafNode[K, V]
	pos   int
	max   K
	key   K
	value V
}

// Range returns an iterator over the keys k with min <= k <= max in ascending
// order. If min > max the iterator is empty.
func (t *Tree[K, V]) Range(min, max K) *Iterator[K, V] {
	if cmp.Compare(min, max) > 0 {
		return &Iterator[K, V]{}
	}
	leaf := t.searchNode(min, nil)
	pos, _ := slices.BinarySearch(leaf.keys, min)
	return &Iterator[K, V]{leaf: leaf, pos: pos, max: max}
}

// Next advances to the next entry and reports whether there is one. The scan
// ends at the first key above the range maximum.
func (it *Iterator[K, V]) Next() bool {
	for it.leaf != nil {
		if it.pos >= len(it.leaf.keys) {
			it.leaf = it.leaf.next
			it.pos = 0
			continue
		}
		k := it.leaf.keys[it.pos]
		if cmp.Compare(k, it.max) > 0 {
			it.leaf = nil
			return false
		}
		it.key = k
		it.value = it.leaf.values[it.pos]
		it.pos++
		return true
	}
	return false
}

// Key returns the key at the current position.
func (it *Iterator[K, V]) Key() K { return it.key }

// Value returns the value at the current position.
func (it *Iterator[K, V]) Value() V { return it.value }

// RangeSearch collects every entry with min <= key <= max in ascending order.
func (t *Tree[K, V]) RangeSearch(min, max K) []Entry[K, V] {
	var out []Entry[K, V]
	it := t.Range(min, max)
	for it.Next() {
		out = append(out, Entry[K, V]{Key: it.Key(), Value: it.Value()})
	}
	return out
}

// All yields every entry in ascending key order by following the leaf chain.
func (t *Tree[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for leaf := t.firstLeaf(); leaf != nil; leaf = leaf.next {
			for i, k := range leaf.keys {
				if !yield(k, leaf.values[i]) {
					return
				}
			}
		}
	}
}

// Keys returns all keys in ascending order.
func (t *Tree[K, V]) Keys() []K {
	keys := make([]K, 0, t.size)
	for k := range t.All() {
		keys = append(keys, k)
	}
	return keys
}
