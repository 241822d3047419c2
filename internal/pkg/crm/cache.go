package crm

import (
	"sync"
	"time"
)

// entityCache maps (entityType, externalID) to a CRM id with a cachedAt
// timestamp. It is a process-local optimization only: a stale or missing
// entry costs one extra provider lookup, never correctness.
type entityCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	crmID    string
	cachedAt time.Time
}

func newEntityCache() *entityCache {
	return &entityCache{entries: make(map[string]cacheEntry)}
}

// isValid reports whether an entry is still fresh for the given TTL. Entries
// older than the TTL are treated as absent.
func isValid(e cacheEntry, ttl time.Duration, now time.Time) bool {
	return now.Sub(e.cachedAt) < ttl
}

func cacheKey(entityType, externalID string) string {
	return entityType + ":" + externalID
}

func (c *entityCache) Get(entityType, externalID string, ttl time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(entityType, externalID)]
	if !ok || !isValid(e, ttl, time.Now()) {
		return "", false
	}
	return e.crmID, true
}

func (c *entityCache) Put(entityType, externalID, crmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(entityType, externalID)] = cacheEntry{crmID: crmID, cachedAt: time.Now()}
}

// Invalidate drops an entry, the only mutation path besides TTL expiry.
func (c *entityCache) Invalidate(entityType, externalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(entityType, externalID))
}

func (c *entityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
