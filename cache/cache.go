// Package cache provides an in-memory, thread-safe key/value store with a
// per-entry freshness window. It never performs I/O; staleness simply turns
// a Get into a miss so the caller refetches.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache is a generic TTL cache. The zero value is not usable; construct with New.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
	now   func() time.Time
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]entry[V]),
		now:   time.Now,
	}
}

// NewWithClock creates a cache that reads time from the given function.
// Used by tests to simulate the passage of time.
func NewWithClock[K comparable, V any](now func() time.Time) *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]entry[V]),
		now:   now,
	}
}

// Get returns the value and true if the key exists and is still fresh.
// An entry is fresh while now - fetchedAt < ttl.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok || now.Sub(e.fetchedAt) >= e.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores a value, overwriting any existing entry and resetting its age.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, fetchedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Invalidate removes a single key so the next Get misses regardless of age.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry. Called on context changes (e.g. a currency
// switch) to guarantee no cross-context read.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.items = make(map[K]entry[V])
	c.mu.Unlock()
}

// Len returns the number of entries, fresh or stale.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
