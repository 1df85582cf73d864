// Package cache provides an in-memory TTL store. Reads enforce expiry lazily,
// so the periodic sweep is purely a memory reclamation aid.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL applies to entries stored without an explicit TTL.
const DefaultTTL = time.Hour

// DefaultSweepInterval is how often the background sweep removes expired entries.
const DefaultSweepInterval = 5 * time.Minute

type entry[V any] struct {
	value    V
	expireAt time.Time
}

// Cache is a TTL key-value store. The zero value is not usable; construct
// with New. All methods are safe for concurrent use.
type Cache[V any] struct {
	mu            sync.Mutex
	entries       map[string]entry[V]
	defaultTTL    time.Duration
	sweepInterval time.Duration
	sweeping      bool
	now           func() time.Time
}

// New creates a cache with the given default TTL and sweep interval.
// Non-positive arguments fall back to the package defaults.
func New[V any](defaultTTL, sweepInterval time.Duration) *Cache[V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Cache[V]{
		entries:       make(map[string]entry[V]),
		defaultTTL:    defaultTTL,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expireAt: c.now().Add(ttl)}
	c.ensureSweeperLocked()
}

// Get returns the value stored under key. An entry past its expiry behaves as
// absent and is evicted on the spot.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expireAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, including any not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ensureSweeperLocked starts the background sweep goroutine if it is not
// already running. The sweeper exits once the cache is empty and is restarted
// by the next write, so an idle cache holds no goroutine.
func (c *Cache[V]) ensureSweeperLocked() {
	if c.sweeping {
		return
	}
	c.sweeping = true
	go c.sweep()
}

func (c *Cache[V]) sweep() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		now := c.now()
		for key, e := range c.entries {
			if now.After(e.expireAt) {
				delete(c.entries, key)
			}
		}
		if len(c.entries) == 0 {
			c.sweeping = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}
