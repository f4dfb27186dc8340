package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	expiration int64
}

func (e entry[V]) expired(now int64) bool {
	return e.expiration > 0 && now > e.expiration
}

// Cache is an in-memory TTL cache with periodic cleanup of expired entries.
type Cache[V any] struct {
	mu         sync.RWMutex
	items      map[string]entry[V]
	defaultTTL time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates a cache whose entries expire after defaultTTL. A background
// goroutine sweeps expired entries every cleanupInterval; call Stop to
// release it. A defaultTTL of zero means entries never expire.
func New[V any](defaultTTL, cleanupInterval time.Duration) *Cache[V] {
	c := &Cache[V]{
		items:       make(map[string]entry[V]),
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}

	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || item.expired(time.Now().UnixNano()) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL. A TTL of zero
// stores the entry without expiration.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiration: expiration}
	c.mu.Unlock()
}

// GetOrSet returns the cached value for key, or computes it with fill,
// stores it and returns it. Concurrent callers for the same missing key
// may each invoke fill; the last write wins.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, fill func(ctx context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := fill(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.Set(key, value)
	return value, nil
}

// Delete removes key from the cache.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
}

// Size returns the number of entries, including any not yet swept.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stop terminates the cleanup goroutine. The cache remains usable.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache[V]) removeExpired() {
	now := time.Now().UnixNano()

	c.mu.Lock()
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}
