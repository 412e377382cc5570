package rbtree_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
)

func TestNewShardedAllocator(t *testing.T) {
	t.Parallel()

	sa := rbtree.NewShardedAllocator[string](4, 1000)
	assert.Len(t, sa.Shards(), 4)
	assert.Equal(t, 250, sa.Shards()[0].HibernationThreshold)

	sa = rbtree.NewShardedAllocator[string](0, 3)
	assert.Len(t, sa.Shards(), 1)
	assert.Equal(t, 3, sa.Shards()[0].HibernationThreshold)

	sa = rbtree.NewShardedAllocator[string](8, 4)
	assert.Equal(t, 1000, sa.Shards()[0].HibernationThreshold)
}

func TestShardedAllocator_GetShard(t *testing.T) {
	t.Parallel()

	sa := rbtree.NewShardedAllocator[int](4, 0)

	assert.Same(t, sa.GetShard("gpu0"), sa.GetShard("gpu0"))

	counts := make(map[*rbtree.Allocator[int]]int)

	for idx := range 100 {
		shard := sa.GetShard(fmt.Sprintf("space%d", idx))
		counts[shard]++
	}

	assert.Len(t, counts, 4) // Likely to hit all 4 with 100 names.

	for idx := range 100 {
		assert.Less(t, sa.ShardIndex(fmt.Sprintf("space%d", idx)), 4)
	}
}

func TestShardedAllocator_HibernateBoot(t *testing.T) {
	t.Parallel()

	sa := rbtree.NewShardedAllocator[int](2, 0)
	alloc := sa.GetShard("a")
	tree := rbtree.NewTree(alloc)

	for idx := range 100 {
		tree.Insert(tree.NewNode(rbtree.NewKey(uint64(idx)*0x1000, 0x1000), idx))
	}

	used := sa.Used()
	assert.Equal(t, 101, used)

	sa.Hibernate()

	for _, shard := range sa.Shards() {
		assert.True(t, shard.Hibernated())
	}

	assert.Panics(t, func() { alloc.Clone() })
	assert.Equal(t, 0, sa.Used())

	// A second hibernation leaves hibernated shards alone.
	assert.NotPanics(t, sa.Hibernate)

	sa.Boot()

	require.NoError(t, tree.Verify())
	assert.Equal(t, used, sa.Used())
	assert.Equal(t, 100, tree.Len())
	assert.Equal(t, 99, *tree.Payload(tree.Max()))
}
