package rbtree

import (
	"iter"
)

// Handle addresses a node slot inside an Allocator. Handles stay stable for
// the whole life of a slot, across inserts, deletes and rebalancing.
type Handle uint32

// Nil is the sentinel handle: "no child", "no parent" and "no such node".
const Nil Handle = 0

// Color is a node color.
type Color bool

// Node colors.
const (
	Red   Color = false
	Black Color = true
)

// String returns "red" or "black".
func (c Color) String() string {
	if c == Black {
		return "black"
	}

	return "red"
}

// Position selects a node for Any.
type Position int8

// Positions accepted by Any.
const (
	PosLeft Position = iota
	PosRight
	PosMid
)

type node struct {
	key                 Key
	parent, left, right Handle
	color               Color
	linked              bool
}

func (nd *node) flags() uint32 {
	var flags uint32

	if nd.color == Black {
		flags |= flagBlack
	}

	if nd.linked {
		flags |= flagLinked
	}

	return flags
}

func (nd *node) setFlags(flags uint32) {
	nd.color = Color(flags&flagBlack != 0)
	nd.linked = flags&flagLinked != 0
}

// Tree is a red-black tree of memory regions ordered by (address, size).
//
// Nodes live in an Allocator and are addressed by Handle. The caller creates
// a node with NewNode, links it with Insert and unlinks it with Delete; the
// payload stays with the caller's slot the whole time. Equal keys are
// allowed and are placed to the right of their twins.
//
// Tree is not safe for concurrent use.
type Tree[T any] struct {
	// Nodes allocator.
	allocator *Allocator[T]

	// Root of the tree, Nil when empty.
	root Handle

	// The minimum and maximum nodes under the tree.
	minNode, maxNode Handle

	// Number of linked nodes.
	count int

	tracer func(Event)
	debug  bool
}

// NewTree creates an empty tree bound to the allocator.
func NewTree[T any](allocator *Allocator[T]) *Tree[T] {
	return &Tree[T]{allocator: allocator, root: Nil, minNode: Nil, maxNode: Nil}
}

func (tree *Tree[T]) storage() []node {
	return tree.allocator.storage
}

// Allocator returns the bound nodes allocator.
func (tree *Tree[T]) Allocator() *Allocator[T] {
	return tree.allocator
}

// SetDebug enables membership assertions on Delete. They cost O(log n) per call.
func (tree *Tree[T]) SetDebug(enabled bool) {
	tree.debug = enabled
}

// Len returns the number of linked nodes.
func (tree *Tree[T]) Len() int {
	return tree.count
}

// Root returns the root node, or Nil when the tree is empty.
func (tree *Tree[T]) Root() Handle {
	return tree.root
}

// NewNode allocates an unlinked node carrying the key and payload.
func (tree *Tree[T]) NewNode(key Key, payload T) Handle {
	nodeIdx := tree.allocator.malloc()
	tree.storage()[nodeIdx].key = key
	tree.allocator.payloads[nodeIdx] = payload

	return nodeIdx
}

// Release returns an unlinked node to the allocator.
func (tree *Tree[T]) Release(nodeIdx Handle) {
	doAssert(nodeIdx != Nil && !tree.storage()[nodeIdx].linked)
	tree.allocator.free(nodeIdx)
}

// Key returns the key of the node.
func (tree *Tree[T]) Key(nodeIdx Handle) Key {
	if nodeIdx == Nil {
		return Key{}
	}

	return tree.storage()[nodeIdx].key
}

// Payload returns a pointer to the node payload. The pointer is invalidated
// by the next NewNode call, which may grow the allocator.
func (tree *Tree[T]) Payload(nodeIdx Handle) *T {
	if nodeIdx == Nil {
		return nil
	}

	return &tree.allocator.payloads[nodeIdx]
}

// Linked reports whether the node is currently part of a tree.
func (tree *Tree[T]) Linked(nodeIdx Handle) bool {
	return nodeIdx != Nil && tree.storage()[nodeIdx].linked
}

// Color returns the node color. The sentinel is always black.
func (tree *Tree[T]) Color(nodeIdx Handle) Color {
	if nodeIdx == Nil {
		return Black
	}

	return tree.storage()[nodeIdx].color
}

// Min returns the smallest node, or Nil if the tree is empty.
func (tree *Tree[T]) Min() Handle {
	return tree.minNode
}

// Max returns the largest node, or Nil if the tree is empty.
func (tree *Tree[T]) Max() Handle {
	return tree.maxNode
}

// Any returns the minimum, the maximum or the root node depending on pos.
func (tree *Tree[T]) Any(pos Position) Handle {
	switch pos {
	case PosLeft:
		return tree.minNode
	case PosRight:
		return tree.maxNode
	default:
		return tree.root
	}
}

// Insert links an unlinked node into the tree.
//
// REQUIRES: nodeIdx was created by NewNode and is not linked.
func (tree *Tree[T]) Insert(nodeIdx Handle) {
	alloc := tree.storage()
	doAssert(nodeIdx != Nil && !alloc[nodeIdx].linked)

	newNode := &alloc[nodeIdx]
	newNode.left = Nil
	newNode.right = Nil
	newNode.linked = true
	tree.count++

	if tree.root == Nil {
		newNode.parent = Nil
		newNode.color = Black
		tree.root = nodeIdx
		tree.minNode = nodeIdx
		tree.maxNode = nodeIdx
		tree.emit(EventInsert, nodeIdx)

		return
	}

	parent := tree.root

	for {
		if Compare(CompareAll, newNode.key, alloc[parent].key) < 0 {
			if alloc[parent].left == Nil {
				alloc[parent].left = nodeIdx

				break
			}

			parent = alloc[parent].left
		} else {
			if alloc[parent].right == Nil {
				alloc[parent].right = nodeIdx

				break
			}

			parent = alloc[parent].right
		}
	}

	newNode.parent = parent
	newNode.color = Red

	if Compare(CompareAll, newNode.key, alloc[tree.minNode].key) < 0 {
		tree.minNode = nodeIdx
	}

	if Compare(CompareAll, newNode.key, alloc[tree.maxNode].key) >= 0 {
		tree.maxNode = nodeIdx
	}

	tree.emit(EventInsert, nodeIdx)
	tree.insertFixup(nodeIdx)
}

func (tree *Tree[T]) insertFixup(nodeIdx Handle) {
	alloc := tree.storage()

	// The root is black, so a red parent always has a grandparent.
	for nodeIdx != tree.root && alloc[alloc[nodeIdx].parent].color == Red {
		parent := alloc[nodeIdx].parent
		grandparent := alloc[parent].parent
		leftCase := parent == alloc[grandparent].left
		aunt := childOf(alloc, grandparent, !leftCase)

		if alloc[aunt].color == Red {
			alloc[parent].color = Black
			alloc[aunt].color = Black
			alloc[grandparent].color = Red
			tree.emit(EventColorFlip, grandparent)
			nodeIdx = grandparent

			continue
		}

		// Inner grandchild: straighten the zig-zag first.
		if nodeIdx == childOf(alloc, parent, !leftCase) {
			nodeIdx = parent
			tree.rotate(nodeIdx, leftCase)
			parent = alloc[nodeIdx].parent
		}

		alloc[parent].color = Black
		alloc[grandparent].color = Red
		tree.rotate(grandparent, !leftCase)

		break
	}

	alloc[tree.root].color = Black
}

// Delete unlinks the node from the tree. The slot and its payload remain
// allocated; the caller may Insert it again or Release it.
//
// REQUIRES: nodeIdx is linked in this tree.
func (tree *Tree[T]) Delete(nodeIdx Handle) {
	alloc := tree.storage()
	doAssert(nodeIdx != Nil && alloc[nodeIdx].linked)

	if tree.debug {
		doAssert(tree.contains(nodeIdx))
	}

	if nodeIdx == tree.minNode {
		tree.minNode = tree.Next(nodeIdx)
	}

	if nodeIdx == tree.maxNode {
		tree.maxNode = tree.Prev(nodeIdx)
	}

	var subst, child, childParent Handle

	switch {
	case alloc[nodeIdx].left == Nil:
		subst = nodeIdx
		child = alloc[nodeIdx].right
	case alloc[nodeIdx].right == Nil:
		subst = nodeIdx
		child = alloc[nodeIdx].left
	default:
		subst = minimum(alloc, alloc[nodeIdx].right)
		child = alloc[subst].right
	}

	removedColor := alloc[subst].color

	if subst == nodeIdx {
		childParent = alloc[nodeIdx].parent
		tree.transplant(nodeIdx, child)
	} else {
		if alloc[subst].parent == nodeIdx {
			childParent = subst
		} else {
			childParent = alloc[subst].parent
			tree.transplant(subst, child)
			alloc[subst].right = alloc[nodeIdx].right
			alloc[alloc[subst].right].parent = subst
		}

		tree.transplant(nodeIdx, subst)
		alloc[subst].left = alloc[nodeIdx].left
		alloc[alloc[subst].left].parent = subst
		alloc[subst].color = alloc[nodeIdx].color
	}

	removed := &alloc[nodeIdx]
	removed.parent = Nil
	removed.left = Nil
	removed.right = Nil
	removed.color = Red
	removed.linked = false
	tree.count--

	tree.emit(EventDelete, nodeIdx)

	if removedColor == Black {
		tree.deleteFixup(child, childParent)
	}
}

// deleteFixup restores the black height after a black node was removed.
// The parent is tracked explicitly because child may be the sentinel, whose
// fields are never written.
func (tree *Tree[T]) deleteFixup(child, parent Handle) {
	alloc := tree.storage()

	for child != tree.root && alloc[child].color == Black {
		isLeft := child == alloc[parent].left
		sibling := childOf(alloc, parent, !isLeft)
		doAssert(sibling != Nil)

		if alloc[sibling].color == Red {
			alloc[sibling].color = Black
			alloc[parent].color = Red
			tree.rotate(parent, isLeft)
			sibling = childOf(alloc, parent, !isLeft)
		}

		near := childOf(alloc, sibling, isLeft)
		far := childOf(alloc, sibling, !isLeft)

		if alloc[near].color == Black && alloc[far].color == Black {
			alloc[sibling].color = Red
			child = parent
			parent = alloc[child].parent

			continue
		}

		if alloc[far].color == Black {
			alloc[near].color = Black
			alloc[sibling].color = Red
			tree.rotate(sibling, !isLeft)
			sibling = childOf(alloc, parent, !isLeft)
			far = childOf(alloc, sibling, !isLeft)
		}

		alloc[sibling].color = alloc[parent].color
		alloc[parent].color = Black
		alloc[far].color = Black
		tree.rotate(parent, isLeft)
		child = tree.root
	}

	if child != Nil {
		alloc[child].color = Black
	}
}

// Erase releases every linked node back to the allocator.
func (tree *Tree[T]) Erase() {
	nodes := make([]Handle, 0, tree.count)

	for nodeIdx := range tree.Ascend() {
		nodes = append(nodes, nodeIdx)
	}

	alloc := tree.storage()

	for _, nd := range nodes {
		alloc[nd].linked = false
		tree.allocator.free(nd)
	}

	tree.root = Nil
	tree.minNode = Nil
	tree.maxNode = Nil
	tree.count = 0
}

// LookupNearest searches for key comparing under mode. An exact match is
// returned immediately. Otherwise DirRight yields the smallest node greater
// than key, DirLeft the greatest node less than key and DirExact yields Nil.
func (tree *Tree[T]) LookupNearest(key Key, mode CompareMode, dir Direction) Handle {
	alloc := tree.storage()
	nodeIdx := tree.root
	candidate := Nil

	for nodeIdx != Nil {
		comp := Compare(mode, key, alloc[nodeIdx].key)

		switch {
		case comp < 0:
			if dir == DirRight {
				candidate = nodeIdx
			}

			nodeIdx = alloc[nodeIdx].left
		case comp > 0:
			if dir == DirLeft {
				candidate = nodeIdx
			}

			nodeIdx = alloc[nodeIdx].right
		default:
			return nodeIdx
		}
	}

	return candidate
}

// Lookup returns a node equal to key under mode, or Nil.
func (tree *Tree[T]) Lookup(key Key, mode CompareMode) Handle {
	return tree.LookupNearest(key, mode, DirExact)
}

// Next returns the successor of the node, or Nil if it is the maximum.
// Next of Nil is Nil.
func (tree *Tree[T]) Next(nodeIdx Handle) Handle {
	if nodeIdx == Nil {
		return Nil
	}

	alloc := tree.storage()

	if alloc[nodeIdx].right != Nil {
		return minimum(alloc, alloc[nodeIdx].right)
	}

	for {
		parent := alloc[nodeIdx].parent
		if parent == Nil {
			return Nil
		}

		if nodeIdx == alloc[parent].left {
			return parent
		}

		nodeIdx = parent
	}
}

// Prev returns the predecessor of the node, or Nil if it is the minimum.
// Prev of Nil is Nil.
func (tree *Tree[T]) Prev(nodeIdx Handle) Handle {
	if nodeIdx == Nil {
		return Nil
	}

	alloc := tree.storage()

	if alloc[nodeIdx].left != Nil {
		return maximum(alloc, alloc[nodeIdx].left)
	}

	for {
		parent := alloc[nodeIdx].parent
		if parent == Nil {
			return Nil
		}

		if nodeIdx == alloc[parent].right {
			return parent
		}

		nodeIdx = parent
	}
}

// Ascend iterates over the linked nodes in ascending key order. The tree
// must not be modified during the iteration.
func (tree *Tree[T]) Ascend() iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		for nodeIdx := tree.minNode; nodeIdx != Nil; nodeIdx = tree.Next(nodeIdx) {
			if !yield(nodeIdx) {
				return
			}
		}
	}
}

// Walk visits nodes in ascending order until fn returns false.
func (tree *Tree[T]) Walk(fn func(nodeIdx Handle, key Key, payload *T) bool) {
	for nodeIdx := range tree.Ascend() {
		if !fn(nodeIdx, tree.storage()[nodeIdx].key, &tree.allocator.payloads[nodeIdx]) {
			return
		}
	}
}

// Height returns the number of nodes on the longest root-to-leaf path.
func (tree *Tree[T]) Height() int {
	return height(tree.storage(), tree.root)
}

// BlackHeight returns the number of black nodes from the root to the
// leftmost sentinel, sentinel excluded.
func (tree *Tree[T]) BlackHeight() int {
	alloc := tree.storage()
	blackHeight := 0

	for nodeIdx := tree.root; nodeIdx != Nil; nodeIdx = alloc[nodeIdx].left {
		if alloc[nodeIdx].color == Black {
			blackHeight++
		}
	}

	return blackHeight
}

func doAssert(condition bool) {
	if !condition {
		panic("rbtree internal assertion failed")
	}
}

// contains reports whether the node hangs under this tree's root.
func (tree *Tree[T]) contains(nodeIdx Handle) bool {
	alloc := tree.storage()

	for alloc[nodeIdx].parent != Nil {
		nodeIdx = alloc[nodeIdx].parent
	}

	return nodeIdx == tree.root
}

func childOf(alloc []node, nodeIdx Handle, left bool) Handle {
	if left {
		return alloc[nodeIdx].left
	}

	return alloc[nodeIdx].right
}

func setChild(alloc []node, nodeIdx Handle, left bool, child Handle) {
	if left {
		alloc[nodeIdx].left = child
	} else {
		alloc[nodeIdx].right = child
	}
}

func minimum(alloc []node, nodeIdx Handle) Handle {
	for alloc[nodeIdx].left != Nil {
		nodeIdx = alloc[nodeIdx].left
	}

	return nodeIdx
}

func maximum(alloc []node, nodeIdx Handle) Handle {
	for alloc[nodeIdx].right != Nil {
		nodeIdx = alloc[nodeIdx].right
	}

	return nodeIdx
}

func height(alloc []node, nodeIdx Handle) int {
	if nodeIdx == Nil {
		return 0
	}

	return 1 + max(height(alloc, alloc[nodeIdx].left), height(alloc, alloc[nodeIdx].right))
}

// transplant puts newn in oldn's place under oldn's parent.
func (tree *Tree[T]) transplant(oldn, newn Handle) {
	alloc := tree.storage()
	parent := alloc[oldn].parent

	switch {
	case parent == Nil:
		tree.root = newn
	case oldn == alloc[parent].left:
		alloc[parent].left = newn
	default:
		alloc[parent].right = newn
	}

	if newn != Nil {
		alloc[newn].parent = parent
	}
}

// rotate performs a tree rotation around pivot. Colors are left untouched.
//
// Left rotation:
//
//	  X              Y
//	A   Y    =>    X   C
//	  B C        A B
//
// Right rotation:
//
//	    Y            X
//	  X   C  =>    A   Y
//	A B              B C
//
//nolint:dupword // ASCII art diagrams contain intentional repeated letters.
func (tree *Tree[T]) rotate(pivot Handle, left bool) {
	alloc := tree.storage()

	child := childOf(alloc, pivot, !left)
	doAssert(child != Nil)

	// Move the inner subtree.
	inner := childOf(alloc, child, left)
	setChild(alloc, pivot, !left, inner)

	if inner != Nil {
		alloc[inner].parent = pivot
	}

	tree.transplant(pivot, child)

	setChild(alloc, child, left, pivot)
	alloc[pivot].parent = child

	if left {
		tree.emit(EventRotateLeft, pivot)
	} else {
		tree.emit(EventRotateRight, pivot)
	}
}
