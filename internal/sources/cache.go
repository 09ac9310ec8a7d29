package sources

import (
	"sync"
)

// InfoCache caches anime info responses so episode navigation does not
// refetch the same list
type InfoCache struct {
	mu   sync.RWMutex
	data map[string]*AnimeInfo
}

// NewInfoCache creates a new InfoCache
func NewInfoCache() *InfoCache {
	return &InfoCache{
		data: make(map[string]*AnimeInfo),
	}
}

// Get retrieves a cached response
func (c *InfoCache) Get(key string) (*AnimeInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.data[key]
	return val, ok
}

// Set stores a response in the cache
func (c *InfoCache) Set(key string, val *AnimeInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = val
}
