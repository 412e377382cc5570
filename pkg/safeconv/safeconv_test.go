package safeconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMustIntToUint32(t *testing.T) {
	t.Parallel()

	t.Run("normal_value", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint32(42), MustIntToUint32(42))
	})

	t.Run("max", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, MaxUint32, MustIntToUint32(int(MaxUint32)))
	})

	t.Run("negative_panics", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "safeconv: int to uint32 out of bounds", func() {
			MustIntToUint32(-1)
		})
	})

	t.Run("too_large_panics", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "safeconv: int to uint32 out of bounds", func() {
			MustIntToUint32(int(MaxUint32) + 1)
		})
	})
}

func TestMustUint64ToInt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7, MustUint64ToInt(7))
	assert.Equal(t, MaxInt, MustUint64ToInt(uint64(MaxInt)))
	assert.PanicsWithValue(t, "safeconv: uint64 to int overflow", func() {
		MustUint64ToInt(math.MaxUint64)
	})
}

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(0x1000, 0x2000)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x3000), sum)

	sum, ok = AddUint64(math.MaxUint64-1, 1)
	assert.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64), sum)

	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestAlignUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		addr  uint64
		align uint64
		want  uint64
		ok    bool
	}{
		{"already_aligned", 0x2000, 0x1000, 0x2000, true},
		{"rounds_up", 0x2001, 0x1000, 0x3000, true},
		{"byte_alignment", 0x2001, 1, 0x2001, true},
		{"zero", 0, 0x1000, 0, true},
		{"overflow", math.MaxUint64 - 10, 0x1000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := AlignUp(tt.addr, tt.align)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	t.Parallel()

	assert.False(t, IsPowerOfTwo(0))
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(0x1000))
	assert.False(t, IsPowerOfTwo(0x1800))
}
