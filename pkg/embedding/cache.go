package embedding

import (
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Normalize is the cache key for a text: lowercased and trimmed.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// vectorCache maps normalised text to its vector. With maxEntries == 0 it is
// unbounded; otherwise the least recently used entry is evicted. Entries
// never expire.
type vectorCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, []float32]
}

func newVectorCache(maxEntries int) *vectorCache {
	return &vectorCache{entries: expirable.NewLRU[string, []float32](maxEntries, nil, 0)}
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	return c.entries.Get(key)
}

// put stores vector under key unless key is already present, in which case the
// existing vector is kept and returned so every caller sees the same vector.
func (c *vectorCache) put(key string, vector []float32) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries.Get(key); ok {
		return existing
	}
	c.entries.Add(key, vector)
	return vector
}

func (c *vectorCache) len() int {
	return c.entries.Len()
}
