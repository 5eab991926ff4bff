package indexer

import (
	"sync"
	"time"
)

// queryCache holds search results per normalized query with a TTL, so a
// re-ranked request list does not hammer the aggregation API.
type queryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	releases []RawRelease
	storedAt time.Time
}

func newQueryCache(ttl time.Duration) *queryCache {
	return &queryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached releases for key, or false when absent or stale.
func (c *queryCache) Get(key string) ([]RawRelease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.releases, true
}

// Put stores releases for key, replacing any previous entry.
func (c *queryCache) Put(key string, releases []RawRelease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{releases: releases, storedAt: c.now()}
}

// Invalidate drops the entry for key.
func (c *queryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
