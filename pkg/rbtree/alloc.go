package rbtree

import (
	"maps"
	"slices"
	"sync"

	"github.com/Sumatoshi-tech/regiontree/pkg/safeconv"
)

// growCapacityNumerator and growCapacityDenominator define the 3/2 growth factor for storage.
const (
	growCapacityNumerator   = 3
	growCapacityDenominator = 2
)

// Hibernated column layout. Keys are split into 32-bit halves so that every
// column is a []uint32 and shares the LZ4 codec.
const (
	colAddrHi = iota
	colAddrLo
	colSizeHi
	colSizeLo
	colParent
	colLeft
	colRight
	colFlags
	hibernatedColumns
)

const (
	flagBlack  = 1
	flagLinked = 2
)

// Allocator is the slot arena for tree nodes. Slot 0 is the sentinel shared
// by every tree bound to the allocator; it is black and never written.
type Allocator[T any] struct {
	storage              []node
	payloads             []T
	gaps                 map[Handle]bool
	hibernatedData       [hibernatedColumns + 1][]byte
	HibernationThreshold int
	hibernatedStorageLen int
	hibernatedGapsLen    int
}

// NewAllocator creates a new allocator for tree nodes carrying payloads of type T.
func NewAllocator[T any]() *Allocator[T] {
	return &Allocator[T]{
		storage:  []node{},
		payloads: []T{},
		gaps:     map[Handle]bool{},
	}
}

// Size returns the currently allocated size, including the sentinel slot.
func (allocator *Allocator[T]) Size() int {
	return len(allocator.storage)
}

// Used returns the number of slots in use, including the sentinel slot.
func (allocator *Allocator[T]) Used() int {
	if allocator.storage == nil {
		panic("hibernated allocators cannot be used")
	}

	return len(allocator.storage) - len(allocator.gaps)
}

// Hibernated reports whether the allocator is currently compressed.
func (allocator *Allocator[T]) Hibernated() bool {
	return allocator.storage == nil
}

// Clone copies an existing allocator. Payloads are copied by value.
func (allocator *Allocator[T]) Clone() *Allocator[T] {
	if allocator.storage == nil {
		panic("cannot clone a hibernated allocator")
	}

	newAllocator := &Allocator[T]{
		HibernationThreshold: allocator.HibernationThreshold,
		storage:              make([]node, len(allocator.storage), cap(allocator.storage)),
		payloads:             make([]T, len(allocator.payloads), cap(allocator.payloads)),
		gaps:                 map[Handle]bool{},
	}
	copy(newAllocator.storage, allocator.storage)
	copy(newAllocator.payloads, allocator.payloads)
	maps.Copy(newAllocator.gaps, allocator.gaps)

	return newAllocator
}

// Hibernate compresses the link and key columns. Payloads stay in memory.
// Allocators smaller than HibernationThreshold are left untouched.
func (allocator *Allocator[T]) Hibernate() {
	if allocator.hibernatedStorageLen > 0 {
		panic("cannot hibernate an already hibernated Allocator")
	}

	if len(allocator.storage) < allocator.HibernationThreshold {
		return
	}

	allocator.hibernatedStorageLen = len(allocator.storage)
	if allocator.hibernatedStorageLen == 0 {
		allocator.storage = nil

		return
	}

	buffers := [hibernatedColumns][]uint32{}

	for idx := range buffers {
		buffers[idx] = make([]uint32, len(allocator.storage))
	}

	// We deinterleave to achieve a better compression ratio.
	for idx, nd := range allocator.storage {
		buffers[colAddrHi][idx] = uint32(nd.key.Addr >> 32)
		buffers[colAddrLo][idx] = uint32(nd.key.Addr)
		buffers[colSizeHi][idx] = uint32(nd.key.Size >> 32)
		buffers[colSizeLo][idx] = uint32(nd.key.Size)
		buffers[colParent][idx] = uint32(nd.parent)
		buffers[colLeft][idx] = uint32(nd.left)
		buffers[colRight][idx] = uint32(nd.right)
		buffers[colFlags][idx] = nd.flags()
	}

	allocator.storage = nil

	wg := &sync.WaitGroup{}
	wg.Add(len(buffers) + 1)

	for idx, buffer := range buffers {
		go func(bufIdx int, buf []uint32) {
			allocator.hibernatedData[bufIdx] = CompressUInt32Slice(buf)
			buffers[bufIdx] = nil

			wg.Done()
		}(idx, buffer)
	}

	// Sorted, delta-encoded gaps compress to almost nothing.
	go func() {
		if len(allocator.gaps) > 0 {
			allocator.hibernatedGapsLen = len(allocator.gaps)

			gapsBuffer := make([]uint32, 0, len(allocator.gaps))
			for key := range allocator.gaps {
				gapsBuffer = append(gapsBuffer, uint32(key))
			}

			slices.Sort(gapsBuffer)
			DeltaEncodeUInt32Slice(gapsBuffer)

			allocator.hibernatedData[hibernatedColumns] = CompressUInt32Slice(gapsBuffer)
		}

		allocator.gaps = nil

		wg.Done()
	}()

	wg.Wait()
}

// Boot performs the opposite of Hibernate() - decompresses and restores the allocated memory.
func (allocator *Allocator[T]) Boot() {
	if allocator.storage == nil && allocator.hibernatedStorageLen == 0 {
		allocator.storage = []node{}
		allocator.gaps = map[Handle]bool{}

		return
	}

	if allocator.hibernatedStorageLen == 0 {
		// Not hibernated.
		return
	}

	allocator.gaps = map[Handle]bool{}
	buffers := [hibernatedColumns][]uint32{}

	wg := &sync.WaitGroup{}
	wg.Add(len(buffers) + 1)

	for idx := range buffers {
		go func(bufIdx int) {
			buffers[bufIdx] = make([]uint32, allocator.hibernatedStorageLen)
			DecompressUInt32Slice(allocator.hibernatedData[bufIdx], buffers[bufIdx])
			allocator.hibernatedData[bufIdx] = nil

			wg.Done()
		}(idx)
	}

	go func() {
		if allocator.hibernatedGapsLen > 0 {
			buffer := make([]uint32, allocator.hibernatedGapsLen)
			DecompressUInt32Slice(allocator.hibernatedData[hibernatedColumns], buffer)
			DeltaDecodeUInt32Slice(buffer)

			for _, key := range buffer {
				allocator.gaps[Handle(key)] = true
			}

			allocator.hibernatedData[hibernatedColumns] = nil
			allocator.hibernatedGapsLen = 0
		}

		wg.Done()
	}()

	wg.Wait()

	capSize := (allocator.hibernatedStorageLen * growCapacityNumerator) / growCapacityDenominator
	allocator.storage = make([]node, allocator.hibernatedStorageLen, capSize)

	for idx := range allocator.storage {
		nd := &allocator.storage[idx]
		nd.key.Addr = uint64(buffers[colAddrHi][idx])<<32 | uint64(buffers[colAddrLo][idx])
		nd.key.Size = uint64(buffers[colSizeHi][idx])<<32 | uint64(buffers[colSizeLo][idx])
		nd.parent = Handle(buffers[colParent][idx])
		nd.left = Handle(buffers[colLeft][idx])
		nd.right = Handle(buffers[colRight][idx])
		nd.setFlags(buffers[colFlags][idx])
	}

	allocator.hibernatedStorageLen = 0
}

func (allocator *Allocator[T]) malloc() Handle {
	if allocator.storage == nil {
		panic("hibernated allocators cannot be used")
	}

	if len(allocator.gaps) > 0 {
		var key Handle

		for key = range allocator.gaps {
			break
		}

		delete(allocator.gaps, key)

		return key
	}

	nodeLen := len(allocator.storage)
	if nodeLen == 0 {
		// Zero is reserved for the sentinel.
		allocator.storage = append(allocator.storage, node{color: Black})
		allocator.payloads = append(allocator.payloads, *new(T))
		nodeLen = 1
	}

	if nodeLen == int(safeconv.MaxUint32) {
		panic("the size of the node allocator has reached the maximum value for uint32")
	}

	allocator.storage = append(allocator.storage, node{})
	allocator.payloads = append(allocator.payloads, *new(T))

	return Handle(safeconv.MustIntToUint32(nodeLen))
}

func (allocator *Allocator[T]) free(nodeIdx Handle) {
	if allocator.storage == nil {
		panic("hibernated allocators cannot be used")
	}

	if nodeIdx == Nil {
		panic("node #0 is special and cannot be deallocated")
	}

	_, exists := allocator.gaps[nodeIdx]
	doAssert(!exists)

	allocator.storage[nodeIdx] = node{}
	allocator.payloads[nodeIdx] = *new(T)
	allocator.gaps[nodeIdx] = true
}
