package rbtree

import (
	"hash/fnv"
	"sync"
)

// minHibernationThreshold is the minimal reasonable default if division results in 0.
const minHibernationThreshold = 1000

// ShardedAllocator spreads trees over several Allocators so that unrelated
// address spaces can be hibernated and booted in parallel. Trees of the same
// address space always land on the same shard.
type ShardedAllocator[T any] struct {
	shards []*Allocator[T]
}

// NewShardedAllocator creates a new ShardedAllocator with shardCount shards.
// The hibernation threshold is split evenly between the shards.
func NewShardedAllocator[T any](shardCount, hibernationThreshold int) *ShardedAllocator[T] {
	if shardCount <= 0 {
		shardCount = 1
	}

	shards := make([]*Allocator[T], shardCount)

	for idx := range shardCount {
		shards[idx] = NewAllocator[T]()

		if hibernationThreshold > 0 {
			shards[idx].HibernationThreshold = hibernationThreshold / shardCount
			if shards[idx].HibernationThreshold == 0 {
				shards[idx].HibernationThreshold = minHibernationThreshold
			}
		}
	}

	return &ShardedAllocator[T]{shards: shards}
}

// ShardIndex returns the shard index of the address space name.
func (sa *ShardedAllocator[T]) ShardIndex(space string) int {
	hasher := fnv.New32a()
	hasher.Write([]byte(space))

	return int(hasher.Sum32() % uint32(len(sa.shards))) //nolint:gosec // shard count is positive and small.
}

// GetShard returns the allocator shard for the address space name.
func (sa *ShardedAllocator[T]) GetShard(space string) *Allocator[T] {
	return sa.shards[sa.ShardIndex(space)]
}

// Shards returns all underlying allocators.
func (sa *ShardedAllocator[T]) Shards() []*Allocator[T] {
	return sa.shards
}

// Used returns the number of slots in use across the booted shards.
func (sa *ShardedAllocator[T]) Used() int {
	used := 0

	for _, shard := range sa.shards {
		if !shard.Hibernated() {
			used += shard.Used()
		}
	}

	return used
}

// Hibernate hibernates all shards in parallel, ignoring their thresholds.
func (sa *ShardedAllocator[T]) Hibernate() {
	sa.each(func(alloc *Allocator[T]) {
		if alloc.Hibernated() {
			return
		}

		originalThreshold := alloc.HibernationThreshold
		alloc.HibernationThreshold = 0
		alloc.Hibernate()
		alloc.HibernationThreshold = originalThreshold
	})
}

// Boot boots all shards in parallel.
func (sa *ShardedAllocator[T]) Boot() {
	sa.each((*Allocator[T]).Boot)
}

func (sa *ShardedAllocator[T]) each(fn func(alloc *Allocator[T])) {
	wg := sync.WaitGroup{}
	wg.Add(len(sa.shards))

	for _, shard := range sa.shards {
		go func(alloc *Allocator[T]) {
			defer wg.Done()

			fn(alloc)
		}(shard)
	}

	wg.Wait()
}
