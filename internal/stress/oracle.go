package stress

import (
	"cmp"
	"slices"
)

// span is one oracle region.
type span struct {
	start uint64
	size  uint64
}

func (s span) end() uint64 { return s.start + s.size }

// oracle is a sorted slice of non-overlapping regions. Every query is a
// binary search plus at most one neighbor check.
type oracle struct {
	spans []span
}

func (o *oracle) len() int { return len(o.spans) }

func (o *oracle) search(addr uint64) (int, bool) {
	return slices.BinarySearchFunc(o.spans, addr, func(s span, target uint64) int {
		return cmp.Compare(s.start, target)
	})
}

// fits reports whether [start, start+size) is free and start is unused.
func (o *oracle) fits(start, size uint64) bool {
	idx, found := o.search(start)
	if found {
		return false
	}

	if idx > 0 && o.spans[idx-1].end() > start {
		return false
	}

	return idx == len(o.spans) || o.spans[idx].start >= start+size
}

func (o *oracle) insert(start, size uint64) {
	idx, _ := o.search(start)
	o.spans = slices.Insert(o.spans, idx, span{start: start, size: size})
}

func (o *oracle) remove(start uint64) (span, bool) {
	idx, found := o.search(start)
	if !found {
		return span{}, false
	}

	removed := o.spans[idx]
	o.spans = slices.Delete(o.spans, idx, idx+1)

	return removed, true
}

// enclosing returns the region containing addr.
func (o *oracle) enclosing(addr uint64) (span, bool) {
	idx, found := o.search(addr)
	if found {
		return o.spans[idx], true
	}

	if idx > 0 && o.spans[idx-1].end() > addr {
		return o.spans[idx-1], true
	}

	return span{}, false
}

// ceil returns the region with the smallest start >= addr.
func (o *oracle) ceil(addr uint64) (span, bool) {
	idx, _ := o.search(addr)
	if idx == len(o.spans) {
		return span{}, false
	}

	return o.spans[idx], true
}

// floor returns the region with the largest start <= addr.
func (o *oracle) floor(addr uint64) (span, bool) {
	idx, found := o.search(addr)
	if found {
		return o.spans[idx], true
	}

	if idx == 0 {
		return span{}, false
	}

	return o.spans[idx-1], true
}
