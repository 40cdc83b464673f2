package cache

import (
	"context"
	"sync"
	"time"
)

// cachedResponse is one stored reply with its expiry
type cachedResponse struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is a process-local cache on sync.Map. Expired entries are
// dropped lazily on read.
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return "", ErrMiss
	}
	cached := v.(cachedResponse)
	if !cached.expiresAt.IsZero() && time.Now().After(cached.expiresAt) {
		c.entries.Delete(key)
		return "", ErrMiss
	}
	return cached.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.entries.Store(key, cachedResponse{value: value, expiresAt: expiresAt})
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}
