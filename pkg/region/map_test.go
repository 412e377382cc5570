package region_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
	"github.com/Sumatoshi-tech/regiontree/pkg/region"
)

func newTestMap(t *testing.T, opts region.Options) *region.Map[string] {
	t.Helper()

	opts.DebugChecks = true

	regions, err := region.NewMap[string](opts)
	require.NoError(t, err)
	t.Cleanup(regions.Close)

	return regions
}

func mustInsert(t *testing.T, regions *region.Map[string], start, size uint64, value string) {
	t.Helper()

	_, err := regions.Insert(start, size, value)
	require.NoError(t, err)
}

func TestFindByAddress(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})
	mustInsert(t, regions, 0x40000000, 0x1000, "first")
	mustInsert(t, regions, 0x80000000, 0x2000, "second")

	found, ok := regions.FindByAddress(0x40000000, 0x1000)
	require.True(t, ok)
	assert.Equal(t, "first", found.Value)

	_, ok = regions.FindByAddress(0x40000000, 0x2000)
	assert.False(t, ok)

	found, ok = regions.FindByAddress(0x80000000, 0)
	require.True(t, ok)
	assert.Equal(t, "second", found.Value)
	assert.Equal(t, uint64(0x2000), found.Size)

	// Addresses inside a region are not region starts.
	_, ok = regions.FindByAddress(0x40000800, 0)
	assert.False(t, ok)

	_, ok = regions.FindByAddress(0x90000000, 0)
	assert.False(t, ok)
}

func TestInsertValidation(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})
	mustInsert(t, regions, 0x1000, 0x1000, "a")

	_, err := regions.Insert(0x5000, 0, "zero")
	require.ErrorIs(t, err, region.ErrZeroSize)

	_, err = regions.Insert(math.MaxUint64-0xf, 0x20, "wrap")
	require.ErrorIs(t, err, region.ErrAddressOverflow)

	_, err = regions.Insert(0x1000, 0x10, "dup")
	require.ErrorIs(t, err, region.ErrDuplicateAddress)

	_, err = regions.Insert(0x1800, 0x1000, "overlap")
	require.ErrorIs(t, err, region.ErrOverlap)

	_, err = regions.Insert(0x800, 0x900, "overlap start")
	require.ErrorIs(t, err, region.ErrOverlap)

	inserted, err := regions.Insert(0x2000, 0x1000, "adjacent")
	require.NoError(t, err)
	assert.Equal(t, region.Region[string]{Start: 0x2000, Size: 0x1000, Value: "adjacent"}, inserted)

	_, err = regions.Insert(math.MaxUint64-0xf, 0xf, "top")
	require.NoError(t, err)
	assert.Equal(t, 3, regions.Len())
}

func TestRemove(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})
	mustInsert(t, regions, 0x1000, 0x1000, "a")
	mustInsert(t, regions, 0x3000, 0x1000, "b")

	_, err := regions.Remove(0x1000, 0x2000)
	require.ErrorIs(t, err, region.ErrSizeMismatch)

	_, err = regions.Remove(0x2000, 0)
	require.ErrorIs(t, err, region.ErrNotFound)

	removed, err := regions.Remove(0x1000, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.Value)

	removed, err = regions.Remove(0x3000, 0)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.Value)
	assert.Equal(t, 0, regions.Len())

	_, ok := regions.FindByAddress(0x3000, 0)
	assert.False(t, ok)
}

func TestEnclosingAndOccupied(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})
	mustInsert(t, regions, 0x1000, 0x1000, "a")
	mustInsert(t, regions, 0x4000, 0x2000, "b")

	found, ok := regions.Enclosing(0x1fff)
	require.True(t, ok)
	assert.Equal(t, "a", found.Value)

	found, ok = regions.Enclosing(0x4000)
	require.True(t, ok)
	assert.Equal(t, "b", found.Value)

	_, ok = regions.Enclosing(0x2000)
	assert.False(t, ok)

	_, ok = regions.Enclosing(0x0)
	assert.False(t, ok)

	assert.True(t, regions.Occupied(0x0, 0x1001))
	assert.False(t, regions.Occupied(0x0, 0x1000))
	assert.False(t, regions.Occupied(0x2000, 0x2000))
	assert.True(t, regions.Occupied(0x2000, 0x2001))
	assert.True(t, regions.Occupied(0x5000, 0x10))
	assert.False(t, regions.Occupied(0x5000, 0))
	assert.False(t, regions.Occupied(0x6000, math.MaxUint64-0x6000))
}

func TestEnclosingWithOverlap(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{AllowOverlap: true})
	mustInsert(t, regions, 0x0, 0x10000, "outer")
	mustInsert(t, regions, 0x1000, 0x1000, "inner")
	mustInsert(t, regions, 0x1400, 0x100, "innermost")
	mustInsert(t, regions, 0x3000, 0x100, "sibling")

	tests := []struct {
		addr uint64
		want string
	}{
		{0x1450, "innermost"},
		{0x1500, "inner"},
		{0x1fff, "inner"},
		{0x2000, "outer"},
		{0x3050, "sibling"},
		{0x3100, "outer"},
		{0xffff, "outer"},
	}

	for _, tt := range tests {
		found, ok := regions.Enclosing(tt.addr)
		require.True(t, ok, "%#x", tt.addr)
		assert.Equal(t, tt.want, found.Value, "%#x", tt.addr)
	}

	_, ok := regions.Enclosing(0x10000)
	assert.False(t, ok)

	_, err := regions.Insert(0x1000, 0x10, "same start")
	require.ErrorIs(t, err, region.ErrDuplicateAddress)
	require.NoError(t, regions.Verify())
}

func TestFloorCeil(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})

	for _, addr := range []uint64{10, 3, 8, 7, 5, 9, 1, 6} {
		mustInsert(t, regions, addr, 1, "")
	}

	found, ok := regions.Ceil(4)
	require.True(t, ok)
	assert.Equal(t, uint64(5), found.Start)

	found, ok = regions.Floor(4)
	require.True(t, ok)
	assert.Equal(t, uint64(3), found.Start)

	found, ok = regions.Floor(7)
	require.True(t, ok)
	assert.Equal(t, uint64(7), found.Start)

	_, ok = regions.Ceil(11)
	assert.False(t, ok)

	_, ok = regions.Floor(0)
	assert.False(t, ok)
}

func TestFirstFit(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})
	mustInsert(t, regions, 0x1000, 0x1000, "a")
	mustInsert(t, regions, 0x2800, 0x800, "b")
	mustInsert(t, regions, 0x4000, 0x1000, "c")

	addr, err := regions.FirstFit(0x1000, 0x1000, 0x0, 0x10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0), addr)

	addr, err = regions.FirstFit(0x1000, 0x1000, 0x1000, 0x10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3000), addr)

	addr, err = regions.FirstFit(0x800, 0, 0x1000, 0x10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2000), addr)

	addr, err = regions.FirstFit(0x2000, 0x1000, 0x1000, 0x10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5000), addr)

	_, err = regions.FirstFit(0x2000, 0x1000, 0x1000, 0x6000)
	require.ErrorIs(t, err, region.ErrNoSpace)

	_, err = regions.FirstFit(0x10, 0x3, 0, 0x100)
	require.ErrorIs(t, err, region.ErrBadAlignment)

	_, err = regions.FirstFit(0, 0x10, 0, 0x100)
	require.ErrorIs(t, err, region.ErrZeroSize)

	_, err = regions.FirstFit(0x10, 0x1000, math.MaxUint64-0x10, math.MaxUint64)
	require.ErrorIs(t, err, region.ErrNoSpace)
}

func TestRegionsAscendClear(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{CacheEntries: 64})
	mustInsert(t, regions, 0x3000, 0x10, "c")
	mustInsert(t, regions, 0x1000, 0x10, "a")
	mustInsert(t, regions, 0x2000, 0x10, "b")

	values := make([]string, 0, 3)
	for _, r := range regions.Regions() {
		values = append(values, r.Value)
	}

	assert.Equal(t, []string{"a", "b", "c"}, values)

	var first []string

	regions.Ascend(func(r region.Region[string]) bool {
		first = append(first, r.Value)

		return false
	})

	assert.Equal(t, []string{"a"}, first)

	stats := regions.Stats()
	assert.Equal(t, 3, stats.Regions)
	assert.Equal(t, 2, stats.Height)
	assert.Equal(t, 1, stats.BlackHeight)
	assert.Len(t, regions.Snapshot(), 3)

	regions.Clear()
	assert.Equal(t, 0, regions.Len())
	assert.Empty(t, regions.Regions())

	_, ok := regions.FindByAddress(0x1000, 0)
	assert.False(t, ok)
	require.NoError(t, regions.Verify())
}

func TestMapTracer(t *testing.T) {
	t.Parallel()

	regions := newTestMap(t, region.Options{})

	var kinds []rbtree.EventKind

	regions.SetTracer(func(ev rbtree.Event) { kinds = append(kinds, ev.Kind) })
	mustInsert(t, regions, 0x1000, 0x10, "a")

	_, err := regions.Remove(0x1000, 0)
	require.NoError(t, err)
	assert.Equal(t, []rbtree.EventKind{rbtree.EventInsert, rbtree.EventDelete}, kinds)
}

// TestRandomizedAgainstNaive checks the queries against a linear scan over
// a plain slice of regions.
func TestRandomizedAgainstNaive(t *testing.T) {
	t.Parallel()

	const space = 1 << 16

	regions := newTestMap(t, region.Options{CacheEntries: 128})
	rng := rand.New(rand.NewSource(0))

	var naive []region.Region[string]

	naiveOverlap := func(start, size uint64) bool {
		for _, r := range naive {
			if r.Overlaps(start, size) {
				return true
			}
		}

		return false
	}

	for range 5000 {
		start := rng.Uint64() % space
		size := 1 + rng.Uint64()%0x400

		switch rng.Intn(4) {
		case 0, 1:
			_, err := regions.Insert(start, size, "")
			if naiveOverlap(start, size) {
				require.Error(t, err)
			} else {
				require.NoError(t, err)

				naive = append(naive, region.Region[string]{Start: start, Size: size})
			}
		case 2:
			if len(naive) == 0 {
				continue
			}

			idx := rng.Intn(len(naive))
			_, err := regions.Remove(naive[idx].Start, 0)
			require.NoError(t, err)

			naive = append(naive[:idx], naive[idx+1:]...)
		default:
			assert.Equal(t, naiveOverlap(start, size), regions.Occupied(start, size))

			var want *region.Region[string]

			for idx := range naive {
				if naive[idx].Contains(start) {
					want = &naive[idx]
				}
			}

			got, ok := regions.Enclosing(start)
			if want == nil {
				assert.False(t, ok)
			} else {
				require.True(t, ok)
				assert.Equal(t, want.Start, got.Start)
			}
		}

		require.Equal(t, len(naive), regions.Len())
	}
}
