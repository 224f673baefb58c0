package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

type memoryCache struct {
	data       map[string]cacheItem
	mu         sync.RWMutex
	maxSize    int           // Maximum number of key sets to store
	defaultTTL time.Duration // Default TTL for cache entries
}

type cacheItem struct {
	value      *types.JWKS
	expiration time.Time
	lastAccess time.Time // For LRU eviction
}

func NewMemoryCache() Cache {
	return &memoryCache{
		data:       make(map[string]cacheItem),
		maxSize:    Defaults.MaxLocalSize,
		defaultTTL: Defaults.TTL,
	}
}

func (c *memoryCache) Get(key string) (*types.JWKS, bool) {
	c.mu.RLock()
	item, found := c.data[key]
	c.mu.RUnlock()

	if !found {
		slog.Debug("JWKS cache miss", "key", key)
		return nil, false
	}

	// An expired key set is a miss; the caller refreshes and replaces it
	if time.Now().After(item.expiration) {
		slog.Debug("JWKS cache entry expired", "key", key)

		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()

		return nil, false
	}

	c.mu.Lock()
	item.lastAccess = time.Now()
	c.data[key] = item
	c.mu.Unlock()

	slog.Debug("JWKS cache hit", "key", key)
	return item.value, true
}

// Set replaces the cached key set wholesale and resets its TTL clock.
func (c *memoryCache) Set(key string, value *types.JWKS, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	// Replacing an existing entry needs no room
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLRU()
	}

	c.data[key] = cacheItem{
		value:      value,
		expiration: time.Now().Add(ttl),
		lastAccess: time.Now(),
	}

	slog.Debug("Cached JWKS", "key", key, "ttl", ttl, "keys", len(value.Keys))
}

// evictLRU removes the least recently used entry. Callers must hold the lock.
func (c *memoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for k, entry := range c.data {
		if oldestTime.IsZero() || entry.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		slog.Debug("Evicting LRU cache entry", "key", oldestKey, "lastAccess", oldestTime)
		delete(c.data, oldestKey)
	}
}
