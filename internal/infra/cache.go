package infra

import (
	"sync"
	"time"
)

// TTLCache is a thread-safe cache with per-entry expiration. It backs the
// permission resolver; entries are performance hints, never a correctness
// gate, so eviction and expiry are allowed to be lossy.
type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]*cacheEntry[V]
	defaultTTL time.Duration
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTLCache creates a cache with the given default TTL. A non-positive TTL
// falls back to five minutes.
func NewTTLCache[K comparable, V any](defaultTTL time.Duration) *TTLCache[K, V] {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &TTLCache[K, V]{
		entries:    make(map[K]*cacheEntry[V]),
		defaultTTL: defaultTTL,
	}
}

// Set stores a value with the default TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get retrieves a value if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Delete removes a key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*cacheEntry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns a cached value or loads, stores, and returns a fresh one.
// Concurrent loads for the same key are collapsed to a single loader call.
type loadGroup[K comparable] struct {
	mu      sync.Mutex
	waiters map[K]chan struct{}
}

// LoadingCache pairs a TTLCache with singleflight loading.
type LoadingCache[K comparable, V any] struct {
	cache *TTLCache[K, V]
	group loadGroup[K]
}

// NewLoadingCache creates a loading cache with the given default TTL.
func NewLoadingCache[K comparable, V any](defaultTTL time.Duration) *LoadingCache[K, V] {
	return &LoadingCache[K, V]{
		cache: NewTTLCache[K, V](defaultTTL),
		group: loadGroup[K]{waiters: make(map[K]chan struct{})},
	}
}

// Get returns the cached value for key, invoking loader on a miss. Only one
// goroutine loads a given key at a time; the rest wait and re-read.
func (c *LoadingCache[K, V]) Get(key K, loader func(K) (V, error)) (V, error) {
	if value, ok := c.cache.Get(key); ok {
		return value, nil
	}

	c.group.mu.Lock()
	if value, ok := c.cache.Get(key); ok {
		c.group.mu.Unlock()
		return value, nil
	}
	if ch, ok := c.group.waiters[key]; ok {
		c.group.mu.Unlock()
		<-ch
		if value, ok := c.cache.Get(key); ok {
			return value, nil
		}
		// The loader that we waited on failed; try ourselves.
		return c.Get(key, loader)
	}
	ch := make(chan struct{})
	c.group.waiters[key] = ch
	c.group.mu.Unlock()

	value, err := loader(key)

	c.group.mu.Lock()
	delete(c.group.waiters, key)
	close(ch)
	c.group.mu.Unlock()

	if err != nil {
		var zero V
		return zero, err
	}
	c.cache.Set(key, value)
	return value, nil
}

// Delete removes a key.
func (c *LoadingCache[K, V]) Delete(key K) {
	c.cache.Delete(key)
}

// Clear removes all entries.
func (c *LoadingCache[K, V]) Clear() {
	c.cache.Clear()
}
