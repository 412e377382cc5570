package region

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
	"github.com/Sumatoshi-tech/regiontree/pkg/safeconv"
)

const (
	// cacheCountersPerEntry follows the ristretto guidance of ~10 counters per item.
	cacheCountersPerEntry = 10
	cacheBufferItems      = 64
)

// Options configures a Map.
type Options struct {
	// AllowOverlap permits regions that intersect regions starting elsewhere.
	// Start addresses stay unique either way.
	AllowOverlap bool

	// DebugChecks turns on membership assertions in the tree and a full
	// Verify after every mutation. A failed check panics; the mutation that
	// exposed it has already been applied.
	DebugChecks bool

	// CacheEntries sizes the find-by-address cache. Zero disables it.
	CacheEntries int64
}

// Stats describes the shape of the underlying tree.
type Stats struct {
	Regions     int
	Height      int
	BlackHeight int
}

// Map is an ordered index of memory regions. It is not safe for concurrent use.
type Map[V any] struct {
	tree  *rbtree.Tree[V]
	opts  Options
	cache *ristretto.Cache[uint64, rbtree.Handle]

	// Largest region size ever inserted. Bounds the backward scan of
	// Enclosing when overlaps are allowed.
	maxSize uint64
}

// NewMap creates an empty map with its own node allocator.
func NewMap[V any](opts Options) (*Map[V], error) {
	return newMap(rbtree.NewAllocator[V](), opts)
}

func newMap[V any](alloc *rbtree.Allocator[V], opts Options) (*Map[V], error) {
	regions := &Map[V]{tree: rbtree.NewTree(alloc), opts: opts}
	regions.tree.SetDebug(opts.DebugChecks)

	if opts.CacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, rbtree.Handle]{
			NumCounters: opts.CacheEntries * cacheCountersPerEntry,
			MaxCost:     opts.CacheEntries,
			BufferItems: cacheBufferItems,
			// Cost counts entries, not bytes.
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create lookup cache: %w", err)
		}

		regions.cache = cache
	}

	return regions, nil
}

// Close releases the lookup cache. The map stays usable without it.
func (m *Map[V]) Close() {
	if m.cache != nil {
		m.cache.Close()
		m.cache = nil
	}
}

// Options returns the map configuration.
func (m *Map[V]) Options() Options {
	return m.opts
}

// Len returns the number of regions.
func (m *Map[V]) Len() int {
	return m.tree.Len()
}

// Stats returns the region count and tree heights.
func (m *Map[V]) Stats() Stats {
	return Stats{Regions: m.tree.Len(), Height: m.tree.Height(), BlackHeight: m.tree.BlackHeight()}
}

// SetTracer forwards structural tree events to fn. Nil disables tracing.
func (m *Map[V]) SetTracer(fn func(rbtree.Event)) {
	m.tree.SetTracer(fn)
}

// Snapshot returns the current tree shape.
func (m *Map[V]) Snapshot() rbtree.Snapshot {
	return m.tree.Snapshot()
}

func (m *Map[V]) region(nodeIdx rbtree.Handle) Region[V] {
	key := m.tree.Key(nodeIdx)

	return Region[V]{Start: key.Addr, Size: key.Size, Value: *m.tree.Payload(nodeIdx)}
}

// Insert adds [start, start+size) carrying value.
func (m *Map[V]) Insert(start, size uint64, value V) (Region[V], error) {
	err := validate(start, size)
	if err != nil {
		return Region[V]{}, err
	}

	if existing := m.tree.Lookup(rbtree.NewKey(start, 0), rbtree.CompareAddr); existing != rbtree.Nil {
		return Region[V]{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, m.region(existing))
	}

	if !m.opts.AllowOverlap {
		if other, found := m.firstOverlap(start, size); found {
			return Region[V]{}, fmt.Errorf("%w: [%#x, %#x) intersects %s", ErrOverlap, start, start+size, other)
		}
	}

	nodeIdx := m.tree.NewNode(rbtree.NewKey(start, size), value)
	m.tree.Insert(nodeIdx)
	m.maxSize = max(m.maxSize, size)
	m.debugVerify()

	return m.region(nodeIdx), nil
}

// Remove deletes the region starting at start. A zero size matches any size.
func (m *Map[V]) Remove(start, size uint64) (Region[V], error) {
	nodeIdx := m.find(start, size)
	if nodeIdx == rbtree.Nil {
		if size != 0 {
			if other := m.tree.Lookup(rbtree.NewKey(start, 0), rbtree.CompareAddr); other != rbtree.Nil {
				return Region[V]{}, fmt.Errorf("%w: want size %#x, have %s", ErrSizeMismatch, size, m.region(other))
			}
		}

		return Region[V]{}, fmt.Errorf("%w: %#x", ErrNotFound, start)
	}

	removed := m.region(nodeIdx)

	if m.cache != nil {
		m.cache.Del(start)
	}

	m.tree.Delete(nodeIdx)
	m.tree.Release(nodeIdx)
	m.debugVerify()

	return removed, nil
}

// FindByAddress returns the region starting exactly at addr. With a non-zero
// size the region must also have that size; with size zero the region must
// be the only one starting at addr.
func (m *Map[V]) FindByAddress(addr, size uint64) (Region[V], bool) {
	nodeIdx := m.find(addr, size)
	if nodeIdx == rbtree.Nil {
		return Region[V]{}, false
	}

	return m.region(nodeIdx), true
}

func (m *Map[V]) find(addr, size uint64) rbtree.Handle {
	// Spaces of a registry share allocator shards, so Linked alone does not
	// prove the slot belongs to this tree. Remove and Clear evict cached
	// addresses along with the slots they release, so a cached handle is
	// always one of ours.
	if m.cache != nil {
		if nodeIdx, hit := m.cache.Get(addr); hit && m.tree.Linked(nodeIdx) && m.tree.Key(nodeIdx).Addr == addr {
			if size != 0 && m.tree.Key(nodeIdx).Size != size {
				return rbtree.Nil
			}

			return nodeIdx
		}
	}

	nodeIdx := m.tree.LookupNearest(rbtree.NewKey(addr, size), rbtree.CompareAll, rbtree.DirRight)
	if nodeIdx == rbtree.Nil || m.tree.Key(nodeIdx).Addr != addr {
		return rbtree.Nil
	}

	if size != 0 {
		if m.tree.Key(nodeIdx).Size != size {
			return rbtree.Nil
		}
	} else if m.tree.LookupNearest(rbtree.NewKey(addr, rbtree.MaxSize), rbtree.CompareAll, rbtree.DirLeft) != nodeIdx {
		return rbtree.Nil
	}

	if m.cache != nil {
		m.cache.Set(addr, nodeIdx, 1)
	}

	return nodeIdx
}

// Enclosing returns the region containing addr. When overlaps are allowed
// and several regions contain addr, the one starting closest to addr wins.
func (m *Map[V]) Enclosing(addr uint64) (Region[V], bool) {
	nodeIdx := m.tree.LookupNearest(rbtree.NewKey(addr, rbtree.MaxSize), rbtree.CompareAll, rbtree.DirLeft)

	for nodeIdx != rbtree.Nil {
		candidate := m.region(nodeIdx)
		if candidate.Contains(addr) {
			return candidate, true
		}

		if !m.opts.AllowOverlap || addr-candidate.Start >= m.maxSize {
			break
		}

		nodeIdx = m.tree.Prev(nodeIdx)
	}

	return Region[V]{}, false
}

// Occupied reports whether any region intersects [start, start+size).
func (m *Map[V]) Occupied(start, size uint64) bool {
	_, found := m.firstOverlap(start, size)

	return found
}

func (m *Map[V]) firstOverlap(start, size uint64) (Region[V], bool) {
	if size == 0 {
		return Region[V]{}, false
	}

	if enclosing, found := m.Enclosing(start); found {
		return enclosing, true
	}

	nodeIdx := m.tree.LookupNearest(rbtree.NewKey(start, 0), rbtree.CompareAddr, rbtree.DirRight)
	if nodeIdx == rbtree.Nil {
		return Region[V]{}, false
	}

	next := m.region(nodeIdx)
	if next.Start-start < size {
		return next, true
	}

	return Region[V]{}, false
}

// Floor returns the region with the greatest start address <= addr.
func (m *Map[V]) Floor(addr uint64) (Region[V], bool) {
	return m.nearest(addr, rbtree.DirLeft)
}

// Ceil returns the region with the smallest start address >= addr.
func (m *Map[V]) Ceil(addr uint64) (Region[V], bool) {
	return m.nearest(addr, rbtree.DirRight)
}

func (m *Map[V]) nearest(addr uint64, dir rbtree.Direction) (Region[V], bool) {
	nodeIdx := m.tree.LookupNearest(rbtree.NewKey(addr, 0), rbtree.CompareAddr, dir)
	if nodeIdx == rbtree.Nil {
		return Region[V]{}, false
	}

	return m.region(nodeIdx), true
}

// FirstFit returns the lowest address in [lo, hi) aligned to align where
// size bytes are free. An align of zero means byte alignment.
func (m *Map[V]) FirstFit(size, align, lo, hi uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrZeroSize
	}

	if align == 0 {
		align = 1
	}

	if !safeconv.IsPowerOfTwo(align) {
		return 0, fmt.Errorf("%w: %#x", ErrBadAlignment, align)
	}

	candidate, ok := safeconv.AlignUp(lo, align)

	for ok && candidate < hi && size <= hi-candidate {
		blocker, found := m.firstOverlap(candidate, size)
		if !found {
			return candidate, nil
		}

		candidate, ok = safeconv.AlignUp(blocker.End(), align)
	}

	return 0, fmt.Errorf("%w: size %#x align %#x in [%#x, %#x)", ErrNoSpace, size, align, lo, hi)
}

// Ascend calls fn for each region in ascending order until fn returns false.
// The map must not be modified from fn.
func (m *Map[V]) Ascend(fn func(Region[V]) bool) {
	for nodeIdx := range m.tree.Ascend() {
		if !fn(m.region(nodeIdx)) {
			return
		}
	}
}

// Regions returns all regions in ascending order.
func (m *Map[V]) Regions() []Region[V] {
	regions := make([]Region[V], 0, m.tree.Len())

	m.Ascend(func(r Region[V]) bool {
		regions = append(regions, r)

		return true
	})

	return regions
}

// Clear removes every region.
func (m *Map[V]) Clear() {
	m.tree.Erase()
	m.maxSize = 0

	if m.cache != nil {
		m.cache.Clear()
	}
}

// Verify checks the tree invariants and, unless overlaps are allowed, that
// no two regions intersect.
func (m *Map[V]) Verify() error {
	err := m.tree.Verify()
	if err != nil {
		return err
	}

	var prev *Region[V]

	for nodeIdx := range m.tree.Ascend() {
		cur := m.region(nodeIdx)

		if prev != nil {
			if prev.Start == cur.Start {
				return fmt.Errorf("%w: %s and %s", ErrDuplicateAddress, prev, cur)
			}

			if !m.opts.AllowOverlap && prev.Overlaps(cur.Start, cur.Size) {
				return fmt.Errorf("%w: %s and %s", ErrOverlap, prev, cur)
			}
		}

		prev = &cur
	}

	return nil
}

// debugVerify panics when DebugChecks is set and the map fails Verify.
func (m *Map[V]) debugVerify() {
	if !m.opts.DebugChecks {
		return
	}

	err := m.Verify()
	if err != nil {
		panic(fmt.Sprintf("region index corrupted: %v", err))
	}
}
