package rbtree

import (
	"fmt"
	"math"
	"strings"
)

// MaxSize is the largest representable region size. Lookups use it as the
// upper bound for "any size at this address".
const MaxSize = math.MaxUint64

// Key identifies a memory region by its base address and size.
type Key struct {
	Addr uint64
	Size uint64
}

// NewKey creates a region key.
func NewKey(addr, size uint64) Key {
	return Key{Addr: addr, Size: size}
}

// String formats the key as (addr, size) in hex.
func (key Key) String() string {
	return fmt.Sprintf("(%#x, %#x)", key.Addr, key.Size)
}

// CompareMode selects which key fields take part in a comparison.
type CompareMode uint8

// Comparison modes.
const (
	CompareAddr CompareMode = 1 << iota
	CompareSize

	// CompareAll orders by address first and size second.
	CompareAll = CompareAddr | CompareSize
)

// String returns a readable form of the mode, e.g. "addr|size".
func (mode CompareMode) String() string {
	var parts []string

	if mode&CompareAddr != 0 {
		parts = append(parts, "addr")
	}

	if mode&CompareSize != 0 {
		parts = append(parts, "size")
	}

	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// Compare orders two keys under the given mode and returns -1, 0 or +1.
// Fields not selected by the mode are ignored, so keys that agree on the
// selected fields compare equal.
func Compare(mode CompareMode, a, b Key) int {
	if mode&CompareAddr != 0 && a.Addr != b.Addr {
		if a.Addr > b.Addr {
			return 1
		}

		return -1
	}

	if mode&CompareSize != 0 && a.Size != b.Size {
		if a.Size > b.Size {
			return 1
		}

		return -1
	}

	return 0
}

// Direction selects which bound LookupNearest falls back to when no node
// matches exactly.
type Direction int8

// Lookup directions.
const (
	// DirExact returns only exact matches.
	DirExact Direction = iota
	// DirLeft returns the greatest node below the key.
	DirLeft
	// DirRight returns the smallest node above the key.
	DirRight
)

// String returns the direction name.
func (dir Direction) String() string {
	switch dir {
	case DirExact:
		return "exact"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return fmt.Sprintf("direction(%d)", int8(dir))
	}
}
