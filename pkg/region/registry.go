package region

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Sumatoshi-tech/regiontree/pkg/rbtree"
)

// ErrHibernated is returned when a space is requested while the registry is hibernated.
var ErrHibernated = errors.New("registry is hibernated")

// Registry holds named address spaces, each a Map. Spaces share node
// allocators per shard so that idle registries can be compressed with
// Hibernate. The registry table is safe for concurrent use; the maps it
// returns are not.
type Registry[V any] struct {
	mu         sync.Mutex
	allocators *rbtree.ShardedAllocator[V]
	spaces     map[string]*Map[V]
	opts       Options
	hibernated bool
}

// NewRegistry creates a registry whose spaces use opts. Shards and the
// hibernation threshold are passed to the sharded allocator.
func NewRegistry[V any](shards, hibernationThreshold int, opts Options) *Registry[V] {
	return &Registry[V]{
		allocators: rbtree.NewShardedAllocator[V](shards, hibernationThreshold),
		spaces:     map[string]*Map[V]{},
		opts:       opts,
	}
}

// Space returns the named address space, creating it on first use.
func (reg *Registry[V]) Space(name string) (*Map[V], error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.hibernated {
		return nil, fmt.Errorf("%w: space %q", ErrHibernated, name)
	}

	if space, ok := reg.spaces[name]; ok {
		return space, nil
	}

	space, err := newMap(reg.allocators.GetShard(name), reg.opts)
	if err != nil {
		return nil, fmt.Errorf("space %q: %w", name, err)
	}

	reg.spaces[name] = space

	return space, nil
}

// Drop removes the named space and frees its nodes. It reports whether the
// space existed.
func (reg *Registry[V]) Drop(name string) (bool, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.hibernated {
		return false, fmt.Errorf("%w: space %q", ErrHibernated, name)
	}

	space, ok := reg.spaces[name]
	if !ok {
		return false, nil
	}

	space.Clear()
	space.Close()
	delete(reg.spaces, name)

	return true, nil
}

// Names returns the space names in sorted order.
func (reg *Registry[V]) Names() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	names := make([]string, 0, len(reg.spaces))
	for name := range reg.spaces {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Used returns the number of allocator slots in use across all shards.
// It returns zero while hibernated.
func (reg *Registry[V]) Used() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return reg.allocators.Used()
}

// Hibernate compresses every shard. Spaces cannot be used until Boot.
func (reg *Registry[V]) Hibernate() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.hibernated {
		return
	}

	reg.allocators.Hibernate()
	reg.hibernated = true
}

// Boot restores every shard after Hibernate.
func (reg *Registry[V]) Boot() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if !reg.hibernated {
		return
	}

	reg.allocators.Boot()
	reg.hibernated = false
}

// Hibernated reports whether the registry is compressed.
func (reg *Registry[V]) Hibernated() bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return reg.hibernated
}
