package bptree

import (
	"cmp"
	"slices"

	"go.uber.org/zap"
)

// node is either a *leafNode or an *internalNode. The kind of a node never
// changes after creation.
type node[K cmp.Ordered, V any] interface {
	keyList() []K
	insert(t *Tree[K, V], key K, value V) *split[K, V]
	delete(t *Tree[K, V], key K, parent *internalNode[K, V], index int) deleteStatus
}

// split is reported upward when a node overflows: key goes to the parent,
// right is the new sibling placed after the node that split.
type split[K cmp.Ordered, V any] struct {
	key   K
	right node[K, V]
}

// leafNode holds key/value pairs. next is the following leaf in key order and
// does not own it.
type leafNode[K cmp.Ordered, V any] struct {
	keys   []K
	values []V
	next   *leafNode[K, V]
}

// internalNode holds separators; len(children) == len(keys)+1.
type internalNode[K cmp.Ordered, V any] struct {
	keys     []K
	children []node[K, V]
}

func (n *leafNode[K, V]) keyList() []K     { return n.keys }
func (n *internalNode[K, V]) keyList() []K { return n.keys }

// --- Structural predicates ---

func isLeaf[K cmp.Ordered, V any](n node[K, V]) bool {
	_, ok := n.(*leafNode[K, V])
	return ok
}

func isInternal[K cmp.Ordered, V any](n node[K, V]) bool {
	return !isLeaf(n)
}

func isFull[K cmp.Ordered, V any](t *Tree[K, V], n node[K, V]) bool {
	return len(n.keyList()) == t.MaxKeys()
}

// routeIndex picks the child of an internal node that covers key. A separator
// equal to key sends the search to its right.
func routeIndex[K cmp.Ordered](keys []K, key K) int {
	i, found := slices.BinarySearch(keys, key)
	if found {
		i++
	}
	return i
}

// --- Leaf ---

func (n *leafNode[K, V]) get(key K) (V, bool) {
	i, found := slices.BinarySearch(n.keys, key)
	if !found {
		var zero V
		return zero, false
	}
	return n.values[i], true
}

func (n *leafNode[K, V]) insert(t *Tree[K, V], key K, value V) *split[K, V] {
	i, found := slices.BinarySearch(n.keys, key)
	if found {
		n.values[i] = value
		return nil
	}
	n.keys = slices.Insert(n.keys, i, key)
	n.values = slices.Insert(n.values, i, value)
	t.size++
	if len(n.keys) <= t.MaxKeys() {
		return nil
	}
	return n.split(t)
}

// split moves the upper half of the leaf into a new sibling linked right
// after it. The sibling's first key is copied up to the parent.
func (n *leafNode[K, V]) split(t *Tree[K, V]) *split[K, V] {
	mid := len(n.keys) / 2
	right := &leafNode[K, V]{
		keys:   slices.Clone(n.keys[mid:]),
		values: slices.Clone(n.values[mid:]),
		next:   n.next,
	}
	clear(n.keys[mid:])
	clear(n.values[mid:])
	n.keys = n.keys[:mid]
	n.values = n.values[:mid]
	n.next = right

	t.emit(EventSplit, true)
	t.logger.Debug("leaf split", zap.Int("left_keys", len(n.keys)), zap.Int("right_keys", len(right.keys)))
	return &split[K, V]{key: right.keys[0], right: right}
}

// --- Internal ---

func (n *internalNode[K, V]) insert(t *Tree[K, V], key K, value V) *split[K, V] {
	i := routeIndex(n.keys, key)
	s := n.children[i].insert(t, key, value)
	if s == nil {
		return nil
	}
	n.keys = slices.Insert(n.keys, i, s.key)
	n.children = slices.Insert(n.children, i+1, s.right)
	if len(n.keys) <= t.MaxKeys() {
		return nil
	}
	return n.split(t)
}

// split moves the separator at mid up to the parent; the keys and children
// after it go to a new sibling.
func (n *internalNode[K, V]) split(t *Tree[K, V]) *split[K, V] {
	mid := len(n.keys) / 2
	promoted := n.keys[mid]
	right := &internalNode[K, V]{
		keys:     slices.Clone(n.keys[mid+1:]),
		children: slices.Clone(n.children[mid+1:]),
	}
	clear(n.keys[mid:])
	clear(n.children[mid+1:])
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	t.emit(EventSplit, false)
	t.logger.Debug("internal split", zap.Int("left_keys", len(n.keys)), zap.Int("right_keys", len(right.keys)))
	return &split[K, V]{key: promoted, right: right}
}
