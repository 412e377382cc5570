package rbtree

import (
	"fmt"
	"strings"
)

// EventKind names a structural change reported to the tracer.
type EventKind uint8

// Structural events.
const (
	EventInsert EventKind = iota
	EventColorFlip
	EventRotateLeft
	EventRotateRight
	EventDelete
)

var eventNames = [...]string{
	EventInsert:      "insert",
	EventColorFlip:   "color-flip",
	EventRotateLeft:  "rotate-left",
	EventRotateRight: "rotate-right",
	EventDelete:      "delete",
}

// String returns the event name.
func (kind EventKind) String() string {
	if int(kind) < len(eventNames) {
		return eventNames[kind]
	}

	return fmt.Sprintf("event(%d)", uint8(kind))
}

// Event describes one structural change. Node is the inserted or deleted
// node, the grandparent of a color flip, or the pivot of a rotation.
type Event struct {
	Kind EventKind
	Node Handle
	Key  Key
}

// SetTracer installs a callback invoked synchronously on every structural
// change. Passing nil disables tracing. The callback must not modify the tree.
func (tree *Tree[T]) SetTracer(tracer func(Event)) {
	tree.tracer = tracer
}

func (tree *Tree[T]) emit(kind EventKind, nodeIdx Handle) {
	if tree.tracer == nil {
		return
	}

	tree.tracer(Event{Kind: kind, Node: nodeIdx, Key: tree.storage()[nodeIdx].key})
}

// NodeInfo is the shape of one node in a Snapshot.
type NodeInfo struct {
	Key   Key
	Color Color
	Depth int
}

// Snapshot is an in-order dump of the tree shape.
type Snapshot []NodeInfo

// Snapshot captures keys, colors and depths of all nodes in order. Two
// snapshots are equal exactly when the trees have the same shape and colors.
func (tree *Tree[T]) Snapshot() Snapshot {
	snapshot := make(Snapshot, 0, tree.count)
	alloc := tree.storage()

	var visit func(nodeIdx Handle, depth int)

	visit = func(nodeIdx Handle, depth int) {
		if nodeIdx == Nil {
			return
		}

		visit(alloc[nodeIdx].left, depth+1)
		snapshot = append(snapshot, NodeInfo{Key: alloc[nodeIdx].key, Color: alloc[nodeIdx].color, Depth: depth})
		visit(alloc[nodeIdx].right, depth+1)
	}

	visit(tree.root, 0)

	return snapshot
}

// String renders the snapshot sideways, one node per line, indented by depth.
func (snapshot Snapshot) String() string {
	var builder strings.Builder

	for _, info := range snapshot {
		builder.WriteString(strings.Repeat("  ", info.Depth))
		fmt.Fprintf(&builder, "%s %s\n", info.Key, info.Color)
	}

	return builder.String()
}
