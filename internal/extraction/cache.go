package extraction

import "sync"

// Cache holds successful extractions for one user or session, keyed by content hash
type Cache interface {
	Lookup(hash string) (*Record, bool, error)
	Store(hash string, rec *Record) error
}

// MemoryCache is a Cache that lives as long as the process or session that owns it
type MemoryCache struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryCache creates an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]*Record)}
}

// Lookup returns the cached record for hash
func (c *MemoryCache) Lookup(hash string) (*Record, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[hash]
	return rec, ok, nil
}

// Store caches rec under hash
func (c *MemoryCache) Store(hash string, rec *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[hash] = rec
	return nil
}

// Len returns the number of cached records
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
