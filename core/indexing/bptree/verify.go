package bptree

import (
	"cmp"
	"fmt"
)

// Verify walks the whole tree and checks the B+ tree invariants: key counts
// within bounds (the root is exempt from the minimum), ascending keys inside
// every node, keys inside the range their ancestors' separators allow, one
// more child than keys in internal nodes, all leaves at the same depth, and a
// leaf chain that visits every leaf left to right. The first violation is
// returned wrapped in ErrCorruptTree.
func (t *Tree[K, V]) Verify() error {
	type frame struct {
		n      node[K, V]
		depth  int
		lo, hi K
		hasLo  bool
		hasHi  bool
	}

	var leaves []*leafNode[K, V]
	leafDepth := -1
	count := 0
	stack := []frame{{n: t.root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		keys := f.n.keyList()

		if len(keys) > t.MaxKeys() {
			return corrupt("node at depth %d holds %d keys, max is %d", f.depth, len(keys), t.MaxKeys())
		}
		if f.depth > 0 && len(keys) < t.MinKeys() {
			return corrupt("node at depth %d holds %d keys, min is %d", f.depth, len(keys), t.MinKeys())
		}
		for i, k := range keys {
			if i > 0 && cmp.Compare(keys[i-1], k) >= 0 {
				return corrupt("keys not ascending at depth %d: %v then %v", f.depth, keys[i-1], k)
			}
			if f.hasLo && cmp.Compare(k, f.lo) < 0 {
				return corrupt("key %v at depth %d is below separator %v", k, f.depth, f.lo)
			}
			if f.hasHi && cmp.Compare(k, f.hi) >= 0 {
				return corrupt("key %v at depth %d is not below separator %v", k, f.depth, f.hi)
			}
		}

		switch x := f.n.(type) {
		case *leafNode[K, V]:
			if len(x.values) != len(x.keys) {
				return corrupt("leaf at depth %d has %d keys but %d values", f.depth, len(x.keys), len(x.values))
			}
			if leafDepth == -1 {
				leafDepth = f.depth
			} else if f.depth != leafDepth {
				return corrupt("leaf at depth %d, expected all leaves at depth %d", f.depth, leafDepth)
			}
			leaves = append(leaves, x)
			count += len(x.keys)
		case *internalNode[K, V]:
			if len(x.children) != len(x.keys)+1 {
				return corrupt("internal node at depth %d has %d keys and %d children", f.depth, len(x.keys), len(x.children))
			}
			if f.depth == 0 && len(x.keys) == 0 {
				return corrupt("internal root has no keys")
			}
			// Children are pushed right to left so leaves pop in key order.
			for i := len(x.children) - 1; i >= 0; i-- {
				child := frame{n: x.children[i], depth: f.depth + 1, lo: f.lo, hi: f.hi, hasLo: f.hasLo, hasHi: f.hasHi}
				if i > 0 {
					child.lo, child.hasLo = x.keys[i-1], true
				}
				if i < len(x.keys) {
					child.hi, child.hasHi = x.keys[i], true
				}
				stack = append(stack, child)
			}
		}
	}

	for i, leaf := range leaves {
		var want *leafNode[K, V]
		if i+1 < len(leaves) {
			want = leaves[i+1]
		}
		if leaf.next != want {
			return corrupt("leaf chain broken after leaf %d of %d", i, len(leaves))
		}
	}
	if count != t.size {
		return corrupt("tree reports %d entries but leaves hold %d", t.size, count)
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptTree, fmt.Sprintf(format, args...))
}

// Stats summarises the shape of a tree.
type Stats struct {
	Entries       int
	Height        int
	Leaves        int
	InternalNodes int
	FullNodes     int
	LeafFill      float64 // mean keys per leaf divided by MaxKeys
}

// Stats walks the tree and reports its shape.
func (t *Tree[K, V]) Stats() Stats {
	st := Stats{Entries: t.size, Height: t.Height()}
	leafKeys := 0
	stack := []node[K, V]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if isFull(t, n) {
			st.FullNodes++
		}
		if isInternal(n) {
			st.InternalNodes++
			stack = append(stack, n.(*internalNode[K, V]).children...)
			continue
		}
		st.Leaves++
		leafKeys += len(n.keyList())
	}
	if st.Leaves > 0 && t.MaxKeys() > 0 {
		st.LeafFill = float64(leafKeys) / float64(st.Leaves*t.MaxKeys())
	}
	return st
}
