package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	v   any
	exp time.Time
}

// Cache is a thread-safe TTL key/value store with single-flight fetch
// coalescing. Expired entries are retained until overwritten so that
// callers refused by the rate limiter can fall back to stale values.
type Cache struct {
	mu    sync.RWMutex
	m     map[string]entry
	group singleflight.Group
	now   func() time.Time
}

func New() *Cache {
	return &Cache{m: make(map[string]entry), now: time.Now}
}

// Get returns the cached value for key. A read at or after the entry's
// expiry is a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && !c.now().Before(e.exp) {
		return nil, false
	}
	return e.v, true
}

// GetStale returns the most recently stored value for key even if its TTL
// has elapsed. stale reports whether the entry had expired.
func (c *Cache) GetStale(key string) (v any, ok, stale bool) {
	c.mu.RLock()
	e, found := c.m[key]
	c.mu.RUnlock()
	if !found {
		return nil, false, false
	}
	expired := !e.exp.IsZero() && !c.now().Before(e.exp)
	return e.v, true, expired
}

// Set stores value under key. A non-positive ttl means the entry never
// expires.
func (c *Cache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: exp}
	c.mu.Unlock()
}

// GetOrFetch returns the cached value for key, or invokes fetch exactly once
// across concurrent callers, stores the result with ttl, and returns it to
// all waiters. A fetch failure is propagated to every waiter and leaves no
// entry cached.
func (c *Cache) GetOrFetch(key string, ttl time.Duration, fetch func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have populated the entry while we
		// waited on the flight lock.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	return v, err
}

// Clear evicts all entries, including stale ones.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
}

// Size returns the number of stored entries, expired included.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
