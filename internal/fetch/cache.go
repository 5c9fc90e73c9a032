package fetch

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry pairs a fetch result with its expiry.
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// responseCache is a TTL-bounded LRU of recent fetch results keyed by
// normalized URL. It absorbs bursts of checks against the same page so a
// single network call serves all of them.
type responseCache struct {
	entries *lru.Cache[string, *cacheEntry]
	ttl     time.Duration
}

func newResponseCache(size int, ttl time.Duration) (*responseCache, error) {
	entries, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU: %w", err)
	}
	return &responseCache{entries: entries, ttl: ttl}, nil
}

// Get returns the cached result for key if it has not expired. Expired
// entries are evicted on access.
func (c *responseCache) Get(key string) (*Result, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired() {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.result, true
}

// Add stores a result under key with a fresh TTL.
func (c *responseCache) Add(key string, res *Result) {
	c.entries.Add(key, &cacheEntry{result: res, expiresAt: time.Now().Add(c.ttl)})
}

// Purge evicts all expired entries.
func (c *responseCache) Purge() {
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && entry.expired() {
			c.entries.Remove(key)
		}
	}
}
