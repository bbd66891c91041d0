package github

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value    V
	cachedAt time.Time
}

// ttlCache stores values in memory with automatic expiration.
type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

func newTTLCache[V any](ttl time.Duration, now func() time.Time) *ttlCache[V] {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &ttlCache[V]{entries: make(map[string]cacheEntry[V]), ttl: ttl, now: now}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.cachedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) Put(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{value: v, cachedAt: c.now()}
}

// CleanExpired removes expired entries and returns how many were dropped.
func (c *ttlCache[V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if c.now().Sub(e.cachedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *ttlCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
