// Package region provides an ordered index of memory regions for allocators
// and resource trackers: occupancy checks, enclosing-region queries, exact
// find-by-address and first-fit placement, backed by pkg/rbtree.
package region

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
	"github.com/Sumatoshi-tech/regiontree/pkg/safeconv"
)

// Errors returned at the Map boundary.
var (
	ErrZeroSize         = errors.New("region size must be positive")
	ErrAddressOverflow  = errors.New("region end overflows the address space")
	ErrDuplicateAddress = errors.New("a region already starts at this address")
	ErrOverlap          = errors.New("region overlaps an existing region")
	ErrNotFound         = errors.New("region not found")
	ErrSizeMismatch     = errors.New("region starts at this address with a different size")
	ErrNoSpace          = errors.New("no free range fits the request")
	ErrBadAlignment     = errors.New("alignment must be a power of two")
)

// Region is an indexed range [Start, Start+Size) with a caller value.
type Region[V any] struct {
	Start uint64 `json:"start" yaml:"start"`
	Size  uint64 `json:"size"  yaml:"size"`
	Value V      `json:"value" yaml:"value"`
}

// Key returns the tree key of the region.
func (r Region[V]) Key() rbtree.Key {
	return rbtree.NewKey(r.Start, r.Size)
}

// End returns the exclusive end address.
func (r Region[V]) End() uint64 {
	return r.Start + r.Size
}

// Contains reports whether addr lies inside the region.
func (r Region[V]) Contains(addr uint64) bool {
	return addr >= r.Start && addr-r.Start < r.Size
}

// Overlaps reports whether the region intersects [start, start+size).
func (r Region[V]) Overlaps(start, size uint64) bool {
	if size == 0 || r.Size == 0 {
		return false
	}

	if start >= r.Start {
		return start-r.Start < r.Size
	}

	return r.Start-start < size
}

// String formats the region as [start, end).
func (r Region[V]) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End())
}

func validate(start, size uint64) error {
	if size == 0 {
		return ErrZeroSize
	}

	if _, ok := safeconv.AddUint64(start, size); !ok {
		return fmt.Errorf("%w: start %#x size %#x", ErrAddressOverflow, start, size)
	}

	return nil
}
