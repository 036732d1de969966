// Package cache implements the small bounded caches used for in-flight
// reassembly and image metadata. Eviction is strictly by insertion order:
// lookups do not refresh an entry.
package cache

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a bounded map that evicts its oldest entry when a new key would
// exceed the depth. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	depth   int
	order   *list.List // front is oldest
	index   map[K]*list.Element
	onEvict func(K, V)

	evictions uint64
}

// New returns a cache holding at most depth entries. onEvict, if non-nil, is
// called for every entry pushed out by Insert. It is not called for Remove.
func New[K comparable, V any](depth int, onEvict func(K, V)) *Cache[K, V] {
	if depth < 1 {
		depth = 1
	}
	return &Cache[K, V]{
		depth:   depth,
		order:   list.New(),
		index:   make(map[K]*list.Element, depth),
		onEvict: onEvict,
	}
}

// Insert adds or replaces the value for key. Replacing keeps the entry's
// original position and hands the old value to the eviction callback.
// Inserting a new key into a full cache evicts the oldest entry first.
func (c *Cache[K, V]) Insert(key K, value V) {
	var (
		evicted  bool
		evictKey K
		evictVal V
	)

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		old := el.Value.(*entry[K, V])
		evicted, evictKey, evictVal = true, old.key, old.value
		old.value = value
	} else {
		if c.order.Len() >= c.depth {
			front := c.order.Front()
			e := front.Value.(*entry[K, V])
			c.order.Remove(front)
			delete(c.index, e.key)
			c.evictions++
			evicted, evictKey, evictVal = true, e.key, e.value
		}
		c.index[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	}
	c.mu.Unlock()

	if evicted && c.onEvict != nil {
		c.onEvict(evictKey, evictVal)
	}
}

// Find returns the value for key.
func (c *Cache[K, V]) Find(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Remove deletes key without calling the eviction callback. It reports
// whether the key was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, key)
	return true
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Depth returns the maximum number of entries.
func (c *Cache[K, V]) Depth() int { return c.depth }

// Evictions returns how many entries Insert has pushed out.
func (c *Cache[K, V]) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Keys returns the keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Each calls fn for every entry from oldest to newest while holding the
// cache lock. fn must not call back into the cache.
func (c *Cache[K, V]) Each(fn func(K, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		fn(e.key, e.value)
	}
}

// Clear evicts every entry, calling the eviction callback for each.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	var drained []*entry[K, V]
	for el := c.order.Front(); el != nil; el = el.Next() {
		drained = append(drained, el.Value.(*entry[K, V]))
	}
	c.order.Init()
	clear(c.index)
	c.mu.Unlock()

	if c.onEvict == nil {
		return
	}
	for _, e := range drained {
		c.onEvict(e.key, e.value)
	}
}
