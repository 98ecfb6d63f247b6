package bptree

import (
	"cmp"
	"slices"

	"go.uber.org/zap"
)

// rebalance restores the minimum fill of n, the child at index of parent.
// It borrows from the left sibling, then the right sibling, and otherwise
// merges with the left sibling, or with the right one when n is leftmost.
func (t *Tree[K, V]) rebalance(n node[K, V], parent *internalNode[K, V], index int) deleteStatus {
	leaf := isLeaf(n)
	hasLeft := index > 0
	hasRight := index < len(parent.children)-1

	if hasLeft && len(parent.children[index-1].keyList()) > t.MinKeys() {
		borrowFromLeft(n, parent, index)
		t.emit(EventBorrowLeft, leaf)
		t.logger.Debug("borrowed from left sibling", zap.Bool("leaf", leaf), zap.Int("index", index))
		return statusOK
	}
	if hasRight && len(parent.children[index+1].keyList()) > t.MinKeys() {
		borrowFromRight(n, parent, index)
		t.emit(EventBorrowRight, leaf)
		t.logger.Debug("borrowed from right sibling", zap.Bool("leaf", leaf), zap.Int("index", index))
		return statusOK
	}
	if hasLeft {
		mergeIntoLeft(n, parent, index)
		t.emit(EventMergeLeft, leaf)
		t.logger.Debug("merged into left sibling", zap.Bool("leaf", leaf), zap.Int("index", index))
		return statusMerge
	}
	mergeRight(n, parent, index)
	t.emit(EventMergeRight, leaf)
	t.logger.Debug("merged right sibling", zap.Bool("leaf", leaf), zap.Int("index", index))
	return statusMerge
}

// borrowFromLeft moves the last entry of the left sibling to the front of n.
func borrowFromLeft[K cmp.Ordered, V any](n node[K, V], parent *internalNode[K, V], index int) {
	switch cur := n.(type) {
	case *leafNode[K, V]:
		left := parent.children[index-1].(*leafNode[K, V])
		last := len(left.keys) - 1
		cur.keys = slices.Insert(cur.keys, 0, left.keys[last])
		cur.values = slices.Insert(cur.values, 0, left.values[last])
		left.keys = slices.Delete(left.keys, last, last+1)
		left.values = slices.Delete(left.values, last, last+1)
		parent.keys[index-1] = cur.keys[0]
	case *internalNode[K, V]:
		left := parent.children[index-1].(*internalNode[K, V])
		last := len(left.keys) - 1
		cur.keys = slices.Insert(cur.keys, 0, parent.keys[index-1])
		cur.children = slices.Insert(cur.children, 0, left.children[last+1])
		parent.keys[index-1] = left.keys[last]
		left.keys = slices.Delete(left.keys, last, last+1)
		left.children = slices.Delete(left.children, last+1, last+2)
	}
}

// borrowFromRight moves the first entry of the right sibling to the end of n.
func borrowFromRight[K cmp.Ordered, V any](n node[K, V], parent *internalNode[K, V], index int) {
	switch cur := n.(type) {
	case *leafNode[K, V]:
		right := parent.children[index+1].(*leafNode[K, V])
		cur.keys = append(cur.keys, right.keys[0])
		cur.values = append(cur.values, right.values[0])
		right.keys = slices.Delete(right.keys, 0, 1)
		right.values = slices.Delete(right.values, 0, 1)
		parent.keys[index] = right.keys[0]
	case *internalNode[K, V]:
		right := parent.children[index+1].(*internalNode[K, V])
		cur.keys = append(cur.keys, parent.keys[index])
		cur.children = append(cur.children, right.children[0])
		parent.keys[index] = right.keys[0]
		right.keys = slices.Delete(right.keys, 0, 1)
		right.children = slices.Delete(right.children, 0, 1)
	}
}

// mergeIntoLeft appends n to its left sibling and drops n and the separator
// between them from parent.
func mergeIntoLeft[K cmp.Ordered, V any](n node[K, V], parent *internalNode[K, V], index int) {
	switch cur := n.(type) {
	case *leafNode[K, V]:
		left := parent.children[index-1].(*leafNode[K, V])
		left.keys = append(left.keys, cur.keys...)
		left.values = append(left.values, cur.values...)
		left.next = cur.next
		cur.next = nil
	case *internalNode[K, V]:
		left := parent.children[index-1].(*internalNode[K, V])
		left.keys = append(left.keys, parent.keys[index-1])
		left.keys = append(left.keys, cur.keys...)
		left.children = append(left.children, cur.children...)
	}
	parent.keys = slices.Delete(parent.keys, index-1, index)
	parent.children = slices.Delete(parent.children, index, index+1)
}

// mergeRight appends the right sibling to n and drops the sibling and the
// separator between them from parent.
func mergeRight[K cmp.Ordered, V any](n node[K, V], parent *internalNode[K, V], index int) {
	switch cur := n.(type) {
	case *leafNode[K, V]:
		right := parent.children[index+1].(*leafNode[K, V])
		cur.keys = append(cur.keys, right.keys...)
		cur.values = append(cur.values, right.values...)
		cur.next = right.next
		right.next = nil
	case *internalNode[K, V]:
		right := parent.children[index+1].(*internalNode[K, V])
		cur.keys = append(cur.keys, parent.keys[index])
		cur.keys = append(cur.keys, right.keys...)
		cur.children = append(cur.children, right.children...)
	}
	parent.keys = slices.Delete(parent.keys, index, index+1)
	parent.children = slices.Delete(parent.children, index+1, index+2)
}
