// Package bptree implements an ordered key-value index on a B+ tree.
//
// Leaves hold the key/value pairs and are chained left to right for range
// scans; internal nodes hold separator keys only. A separator equal to the
// search key routes to its right child. The tree is not safe for concurrent
// use; see the indexmanager package for a locked wrapper.
package bptree

import (
	"cmp"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// EventKind identifies a structural change performed by the tree.
type EventKind int

const (
	EventSplit EventKind = iota
	EventBorrowLeft
	EventBorrowRight
	EventMergeLeft
	EventMergeRight
	EventRootGrow
	EventRootCollapse
)

func (k EventKind) String() string {
	switch k {
	case EventSplit:
		return "split"
	case EventBorrowLeft:
		return "borrow_left"
	case EventBorrowRight:
		return "borrow_right"
	case EventMergeLeft:
		return "merge_left"
	case EventMergeRight:
		return "merge_right"
	case EventRootGrow:
		return "root_grow"
	case EventRootCollapse:
		return "root_collapse"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event describes one structural change. Leaf reports the kind of node the
// change was applied to.
type Event struct {
	Kind EventKind
	Leaf bool
}

// Entry is a key/value pair returned by range scans.
type Entry[K cmp.Ordered, V any] struct {
	Key   K
	Value V
}

// PathObserver receives the separator keys of every internal node visited
// while descending to a leaf, root first.
type PathObserver[K cmp.Ordered] func(depth int, keys []K)

type settings struct {
	logger  *zap.Logger
	onEvent func(Event)
}

// Option configures a Tree.
type Option func(*settings)

// WithLogger sets the logger used for structural debug events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventHandler registers fn to be called for every split, borrow, merge
// and change of tree height.
func WithEventHandler(fn func(Event)) Option {
	return func(s *settings) {
		s.onEvent = fn
	}
}

// Tree is a B+ tree of fixed order.
type Tree[K cmp.Ordered, V any] struct {
	root    node[K, V]
	order   int
	size    int
	logger  *zap.Logger
	onEvent func(Event)
}

// MinOrder and MaxOrder bound the order of a tree. MaxOrder keeps every
// node's key count within the uint16 of the serialized image.
const (
	MinOrder = 2
	MaxOrder = math.MaxUint16 + 1
)

// New creates an empty tree with the given order (maximum children per node).
func New[K cmp.Ordered, V any](order int, opts ...Option) (*Tree[K, V], error) {
	if order < MinOrder || order > MaxOrder {
		return nil, fmt.Errorf("%w: got %d, want %d to %d", ErrInvalidOrder, order, MinOrder, MaxOrder)
	}
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return &Tree[K, V]{
		root:    &leafNode[K, V]{},
		order:   order,
		logger:  s.logger,
		onEvent: s.onEvent,
	}, nil
}

// --- Bounds ---

// Order returns the branching factor the tree was created with.
func (t *Tree[K, V]) Order() int { return t.order }

// MaxChildren is the largest number of children an internal node may have.
func (t *Tree[K, V]) MaxChildren() int { return t.order }

// MaxKeys is the largest number of keys any node may hold.
func (t *Tree[K, V]) MaxKeys() int { return t.order - 1 }

// MinChildren is the smallest number of children a non-root internal node may have.
func (t *Tree[K, V]) MinChildren() int { return (t.order + 1) / 2 }

// MinKeys is the smallest number of keys a non-root node may hold.
func (t *Tree[K, V]) MinKeys() int { return t.MinChildren() - 1 }

// Len returns the number of key/value pairs stored.
func (t *Tree[K, V]) Len() int { return t.size }

// Height returns the number of levels, 1 for a tree whose root is a leaf.
func (t *Tree[K, V]) Height() int {
	h := 1
	for n := t.root; !isLeaf(n); h++ {
		n = n.(*internalNode[K, V]).children[0]
	}
	return h
}

// --- Public operations ---

// Insert stores value under key. An existing key has its value replaced.
func (t *Tree[K, V]) Insert(key K, value V) {
	s := t.root.insert(t, key, value)
	if s == nil {
		return
	}
	t.root = &internalNode[K, V]{
		keys:     []K{s.key},
		children: []node[K, V]{t.root, s.right},
	}
	t.emit(EventRootGrow, false)
	t.logger.Debug("root split, tree grew", zap.Int("height", t.Height()))
}

// Search returns the value stored under key.
func (t *Tree[K, V]) Search(key K) (V, bool) {
	return t.SearchWithPath(key, nil)
}

// SearchWithPath is Search that also reports the descent path to observe.
func (t *Tree[K, V]) SearchWithPath(key K, observe PathObserver[K]) (V, bool) {
	leaf := t.searchNode(key, observe)
	return leaf.get(key)
}

// Delete removes key from the tree and reports whether it was present.
// Deleting a missing key leaves the tree untouched.
func (t *Tree[K, V]) Delete(key K) bool {
	before := t.size
	status := t.root.delete(t, key, nil, 0)
	if status == statusUnderflow {
		t.logger.Debug("last key removed, tree is empty")
	}
	if in, ok := t.root.(*internalNode[K, V]); ok && len(in.keys) == 0 {
		t.root = in.children[0]
		t.emit(EventRootCollapse, false)
		t.logger.Debug("root collapsed", zap.Int("height", t.Height()))
	}
	// Order 2 never rebalances, so emptied leaves can linger below the root.
	if _, ok := t.root.(*internalNode[K, V]); ok && t.size == 0 {
		t.root = &leafNode[K, V]{}
		t.emit(EventRootCollapse, false)
		t.logger.Debug("tree emptied, root reset to a leaf")
	}
	return t.size < before
}

// searchNode descends from the root to the leaf that holds, or would hold, key.
func (t *Tree[K, V]) searchNode(key K, observe PathObserver[K]) *leafNode[K, V] {
	n := t.root
	for depth := 0; ; depth++ {
		switch x := n.(type) {
		case *leafNode[K, V]:
			return x
		case *internalNode[K, V]:
			if observe != nil {
				observe(depth, append([]K(nil), x.keys...))
			}
			n = x.children[routeIndex(x.keys, key)]
		}
	}
}

// firstLeaf returns the leftmost leaf, the head of the leaf chain.
func (t *Tree[K, V]) firstLeaf() *leafNode[K, V] {
	n := t.root
	for {
		switch x := n.(type) {
		case *leafNode[K, V]:
			return x
		case *internalNode[K, V]:
			n = x.children[0]
		}
	}
}

func (t *Tree[K, V]) emit(kind EventKind, leaf bool) {
	if t.onEvent != nil {
		t.onEvent(Event{Kind: kind, Leaf: leaf})
	}
}
