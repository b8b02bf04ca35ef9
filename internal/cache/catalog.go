package cache

import (
	"sync"
	"time"
)

// DefaultCatalogTTL bounds how long a cached model catalog is trusted.
const DefaultCatalogTTL = 5 * time.Minute

type catalogEntry struct {
	models    []string
	fetchedAt time.Time
}

// Catalog is an explicit model-catalog-by-agent cache. Invalidation
// triggers are an agent change (InvalidateOthers) and an explicit refresh
// (Invalidate); entries also age out after the TTL.
type Catalog struct {
	ttl     time.Duration
	entries map[string]catalogEntry
	mu      sync.RWMutex
}

// NewCatalog creates a catalog cache. A non-positive ttl falls back to the
// default.
func NewCatalog(ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{
		ttl:     ttl,
		entries: make(map[string]catalogEntry),
	}
}

// Get returns the cached catalog for an agent, if present and fresh.
func (c *Catalog) Get(agent string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[agent]
	if !ok || time.Since(entry.fetchedAt) > c.ttl {
		return nil, false
	}
	out := make([]string, len(entry.models))
	copy(out, entry.models)
	return out, true
}

// Put stores the catalog for an agent.
func (c *Catalog) Put(agent string, models []string) {
	stored := make([]string, len(models))
	copy(stored, models)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agent] = catalogEntry{models: stored, fetchedAt: time.Now()}
}

// Invalidate drops the cached catalog for one agent (explicit refresh).
func (c *Catalog) Invalidate(agent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, agent)
}

// InvalidateOthers drops every cached catalog except the given agent's.
// Called when the active agent changes.
func (c *Catalog) InvalidateOthers(agent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key != agent {
			delete(c.entries, key)
		}
	}
}

// Size returns the number of cached catalogs.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
