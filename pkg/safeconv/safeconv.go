// Package safeconv provides checked integer conversions and address
// arithmetic. The Must variants panic on overflow.
package safeconv

import (
	"math"
	"math/bits"
)

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// MaxUint32 is the maximum value for uint32 type.
const MaxUint32 = uint32(math.MaxUint32)

// MustIntToUint32 converts int to uint32, panics on bounds violation.
// Use only when bounds violations are logically impossible.
func MustIntToUint32(v int) uint32 {
	if v < 0 || v > int(MaxUint32) {
		panic("safeconv: int to uint32 out of bounds")
	}

	return uint32(v)
}

// MustUint64ToInt converts uint64 to int, panics on overflow.
func MustUint64ToInt(v uint64) int {
	if v > uint64(MaxInt) {
		panic("safeconv: uint64 to int overflow")
	}

	return int(v)
}

// AddUint64 returns a+b and false if the sum wraps.
func AddUint64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)

	return sum, carry == 0
}

// AlignUp rounds addr up to a multiple of align, which must be a power of
// two. Returns false if the result does not fit in a uint64.
func AlignUp(addr, align uint64) (uint64, bool) {
	bumped, ok := AddUint64(addr, align-1)
	if !ok {
		return 0, false
	}

	return bumped &^ (align - 1), true
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
