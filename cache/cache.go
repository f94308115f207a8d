// Package cache provides a small generic TTL cache used by the data
// repositories and for per-channel command cooldowns. Entries are evicted
// lazily on access; there is no background sweep and no capacity bound, which
// is acceptable for the small closed key sets used here (one key per
// monitored location/topic/channel).
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache maps keys to values that remain visible for a fixed TTL after each
// Set. A Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[K]entry[V]
	now     func() time.Time // overridable in tests
}

// New returns an empty cache whose entries expire ttl after insertion.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns the value stored under key while it is still fresh. An expired
// entry is removed and reported absent. Values are returned as stored, not
// cloned; callers must treat them as read-only.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any existing entry and resetting its
// age to zero.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, insertedAt: c.now()}
}

// Delete removes any entry for key. Deleting an absent key is a no-op. Used to
// force-invalidate after a fetch failure so the next call retries immediately.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of entries currently held, including any that have
// expired but not yet been evicted.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
