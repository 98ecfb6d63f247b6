package bptree

import "slices"

// deleteStatus is what a node reports to its parent after a delete.
type deleteStatus int

const (
	// statusOK: nothing for the parent to do.
	statusOK deleteStatus = iota
	// statusUnderflow: the root leaf lost its last key; the tree is empty.
	statusUnderflow
	// statusMerge: two children of the parent were merged and the parent lost
	// one child and its separator. The parent must check its own fill.
	statusMerge
)

func (s deleteStatus) String() string {
	switch s {
	case statusOK:
		return "ok"
	case statusUnderflow:
		return "underflow"
	case statusMerge:
		return "merge"
	default:
		return "unknown"
	}
}

func (n *leafNode[K, V]) delete(t *Tree[K, V], key K, parent *internalNode[K, V], index int) deleteStatus {
	i, found := slices.BinarySearch(n.keys, key)
	if !found {
		return statusOK
	}
	n.keys = slices.Delete(n.keys, i, i+1)
	n.values = slices.Delete(n.values, i, i+1)
	t.size--

	if parent == nil {
		if len(n.keys) == 0 {
			return statusUnderflow
		}
		return statusOK
	}
	if len(n.keys) < t.MinKeys() {
		return t.rebalance(n, parent, index)
	}
	return statusOK
}

// delete routes to the child the same way insert and search do. Presence of
// the key is only known once the leaf is reached.
func (n *internalNode[K, V]) delete(t *Tree[K, V], key K, parent *internalNode[K, V], index int) deleteStatus {
	i := routeIndex(n.keys, key)
	if n.children[i].delete(t, key, n, i) != statusMerge {
		return statusOK
	}
	// The root is exempt from the minimum; an empty internal root is
	// collapsed by Tree.Delete.
	if parent == nil || len(n.keys) >= t.MinKeys() {
		return statusOK
	}
	return t.rebalance(n, parent, index)
}
