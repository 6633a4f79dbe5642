package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the entry limit used when New is given zero.
const DefaultCapacity = 64

// Key identifies a cache entry.
type Key uint64

// String formats the key as 16 hex digits.
func (k Key) String() string { return fmt.Sprintf("%016x", uint64(k)) }

// KeyOf hashes parts with FNV-1a. Each part is length-prefixed so that
// ("ab", "c") and ("a", "bc") produce different keys.
func KeyOf(parts ...[]byte) Key {
	h := fnv.New64a()
	var n [8]byte
	for _, p := range parts {
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		_, _ = h.Write(n[:]) // fnv.Write never returns an error
		_, _ = h.Write(p)
	}
	return Key(h.Sum64())
}

// Cache is a thread-safe LRU cache with a fixed entry limit.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[Key]*node[V]
	order    list[V]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most capacity entries.
// If capacity <= 0, DefaultCapacity is used.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{
		entries:  make(map[Key]*node[V]),
		capacity: capacity,
	}
}

// setLocked stores value under key, evicting the least recently used
// entries when the cache is full.
func (c *Cache[V]) setLocked(key Key, value V) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.order.touch(e)
		return
	}
	for c.order.n >= c.capacity {
		old := c.order.popBack()
		if old == nil {
			break
		}
		delete(c.entries, old.key)
		c.evictions.Add(1)
	}
	e := &node[V]{key: key, value: value}
	c.order.pushFront(e)
	c.entries[key] = e
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. Failed creations are not cached. create runs with the cache
// locked, so concurrent callers for the same key compile once.
func (c *Cache[V]) GetOrCreate(key Key, create func() (V, error)) (value V, hit bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.order.touch(e)
		c.hits.Add(1)
		return e.value, true, nil
	}
	c.misses.Add(1)

	value, err = create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.setLocked(key, value)
	return value, false, nil
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[V]) Delete(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.unlink(e)
	delete(c.entries, key)
	return true
}

// Clear removes all entries. Statistics are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*node[V])
	c.order = list[V]{}
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64

	// HitRate is Hits / (Hits + Misses), 0 before the first lookup.
	HitRate float64
}

// Stats returns current statistics.
func (c *Cache[V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   rate,
	}
}
