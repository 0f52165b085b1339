package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	value uint64
	at    time.Time
}

// QueryCache memoizes read-only numeric chain queries (balances, points).
// Concurrent callers for one key share a single in-flight fetch instead of
// issuing duplicate network calls; entries expire after a fixed TTL and can
// be force-invalidated after a write.
type QueryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	sf      singleflight.Group
}

// NewQueryCache returns a cache with the given TTL (<= 0 uses the default).
func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &QueryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *QueryCache) cached(key string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.at) >= c.ttl {
		return 0, false
	}
	return e.value, true
}

// Get returns the cached value for key, or runs fetch — once, however many
// callers arrive concurrently. Errors are not cached; the next caller
// retries. The fetch runs under the first caller's context; a late joiner
// whose own context dies still gets the shared result.
func (c *QueryCache) Get(ctx context.Context, key string, fetch func(ctx context.Context) (uint64, error)) (uint64, error) {
	if v, ok := c.cached(key); ok {
		return v, nil
	}
	v, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.cached(key); ok {
			return v, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return uint64(0), err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{value: val, at: c.now()}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Invalidate drops a key so the next Get refetches.
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
