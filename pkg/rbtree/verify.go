package rbtree

import (
	"errors"
	"fmt"
)

// Structural violations reported by Verify.
var (
	ErrOrdering      = errors.New("rbtree: in-order sequence is not sorted")
	ErrRootNotBlack  = errors.New("rbtree: root is not black")
	ErrRedViolation  = errors.New("rbtree: red node has a red child")
	ErrBlackHeight   = errors.New("rbtree: black height differs between paths")
	ErrBrokenLink    = errors.New("rbtree: parent and child links disagree")
	ErrSentinelDirty = errors.New("rbtree: sentinel was modified")
	ErrCountMismatch = errors.New("rbtree: node count mismatch")
)

// Verify checks every red-black invariant and the cached bookkeeping. It
// returns the first violation found wrapped with the offending node.
func (tree *Tree[T]) Verify() error {
	alloc := tree.storage()

	if alloc == nil {
		return nil
	}

	if len(alloc) > 0 && alloc[Nil] != (node{color: Black}) {
		return ErrSentinelDirty
	}

	if tree.root == Nil {
		if tree.count != 0 || tree.minNode != Nil || tree.maxNode != Nil {
			return fmt.Errorf("%w: empty tree reports %d nodes", ErrCountMismatch, tree.count)
		}

		return nil
	}

	if alloc[tree.root].color != Black {
		return ErrRootNotBlack
	}

	if alloc[tree.root].parent != Nil {
		return fmt.Errorf("%w: root %d has parent %d", ErrBrokenLink, tree.root, alloc[tree.root].parent)
	}

	count := 0

	if _, err := tree.verifySubtree(tree.root, &count); err != nil {
		return err
	}

	if count != tree.count {
		return fmt.Errorf("%w: counted %d, recorded %d", ErrCountMismatch, count, tree.count)
	}

	if tree.minNode != minimum(alloc, tree.root) || tree.maxNode != maximum(alloc, tree.root) {
		return fmt.Errorf("%w: stale min/max", ErrBrokenLink)
	}

	return tree.verifyOrder()
}

// verifySubtree returns the black height of the subtree rooted at nodeIdx.
func (tree *Tree[T]) verifySubtree(nodeIdx Handle, count *int) (int, error) {
	if nodeIdx == Nil {
		return 1, nil
	}

	alloc := tree.storage()
	nd := &alloc[nodeIdx]
	*count++

	if !nd.linked {
		return 0, fmt.Errorf("%w: node %d is not marked linked", ErrBrokenLink, nodeIdx)
	}

	for _, child := range [2]Handle{nd.left, nd.right} {
		if child == Nil {
			continue
		}

		if alloc[child].parent != nodeIdx {
			return 0, fmt.Errorf("%w: node %d points to parent %d, expected %d",
				ErrBrokenLink, child, alloc[child].parent, nodeIdx)
		}

		if nd.color == Red && alloc[child].color == Red {
			return 0, fmt.Errorf("%w: node %d %s", ErrRedViolation, nodeIdx, nd.key)
		}
	}

	leftHeight, err := tree.verifySubtree(nd.left, count)
	if err != nil {
		return 0, err
	}

	rightHeight, err := tree.verifySubtree(nd.right, count)
	if err != nil {
		return 0, err
	}

	if leftHeight != rightHeight {
		return 0, fmt.Errorf("%w: node %d %s has %d vs %d",
			ErrBlackHeight, nodeIdx, nd.key, leftHeight, rightHeight)
	}

	if nd.color == Black {
		leftHeight++
	}

	return leftHeight, nil
}

func (tree *Tree[T]) verifyOrder() error {
	alloc := tree.storage()
	prev := Nil

	for nodeIdx := range tree.Ascend() {
		if prev != Nil && Compare(CompareAll, alloc[prev].key, alloc[nodeIdx].key) > 0 {
			return fmt.Errorf("%w: %s precedes %s", ErrOrdering, alloc[prev].key, alloc[nodeIdx].key)
		}

		prev = nodeIdx
	}

	return nil
}
