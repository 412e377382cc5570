// Package rbtree implements an intrusive red-black tree of memory regions
// keyed by (address, size), with nearest-match lookups, an arena node
// allocator that can hibernate into LZ4-compressed columns, and sharded
// allocators for independent address spaces.
package rbtree

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// uint32ByteSize is the number of bytes in a uint32.
const uint32ByteSize = 4

// CompressUInt32Slice packs the values little-endian and compresses them as a
// single LZ4 block. Incompressible input yields nil, which
// DecompressUInt32Slice treats as all zeros.
func CompressUInt32Slice(data []uint32) []byte {
	if len(data) == 0 {
		return nil
	}

	raw := make([]byte, len(data)*uint32ByteSize)
	for idx, value := range data {
		binary.LittleEndian.PutUint32(raw[idx*uint32ByteSize:], value)
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return nil
	}

	if written == 0 {
		// Incompressible: store the raw bytes behind a zero-length marker.
		return append([]byte{0}, raw...)
	}

	return compressed[:written]
}

// DecompressUInt32Slice restores values produced by CompressUInt32Slice.
// `result` must be preallocated with the original length.
func DecompressUInt32Slice(data []byte, result []uint32) {
	raw := make([]byte, len(result)*uint32ByteSize)

	switch {
	case len(data) == 0:
		clear(result)

		return
	case data[0] == 0 && len(data) == len(raw)+1:
		copy(raw, data[1:])
	default:
		if _, err := lz4.UncompressBlock(data, raw); err != nil {
			clear(result)

			return
		}
	}

	for idx := range result {
		result[idx] = binary.LittleEndian.Uint32(raw[idx*uint32ByteSize:])
	}
}

// DeltaEncodeUInt32Slice replaces each element with the difference from its
// predecessor, in place. Sorted input becomes small repetitive values.
func DeltaEncodeUInt32Slice(data []uint32) {
	for i := len(data) - 1; i > 0; i-- {
		data[i] -= data[i-1]
	}
}

// DeltaDecodeUInt32Slice undoes DeltaEncodeUInt32Slice in place.
func DeltaDecodeUInt32Slice(data []uint32) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}
