package services

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// negativeCacheSize bounds how many no-match outcomes are remembered.
const negativeCacheSize = 10000

// negativeCache remembers resolver lookups that found no match so a run over
// many identical lines does not rescan the catalogue. Entries expire after ttl
// and are dropped per invoice description when a user judgement changes.
// A zero ttl disables the cache.
type negativeCache struct {
	ttl     time.Duration
	entries *expirable.LRU[string, string]
}

func newNegativeCache(ttl time.Duration) *negativeCache {
	c := &negativeCache{ttl: ttl}
	if ttl > 0 {
		c.entries = expirable.NewLRU[string, string](negativeCacheSize, nil, ttl)
	}
	return c
}

func (c *negativeCache) enabled() bool {
	return c.entries != nil
}

func (c *negativeCache) has(key string) bool {
	if !c.enabled() {
		return false
	}
	_, ok := c.entries.Get(key)
	return ok
}

// add records key as a no-match for description.
func (c *negativeCache) add(key, description string) {
	if !c.enabled() {
		return
	}
	c.entries.Add(key, description)
}

// invalidate drops every live entry recorded for description and returns how many.
func (c *negativeCache) invalidate(description string) int {
	if !c.enabled() {
		return 0
	}

	n := 0
	for _, key := range c.entries.Keys() {
		if d, ok := c.entries.Peek(key); ok && d == description {
			if c.entries.Remove(key) {
				n++
			}
		}
	}
	return n
}

func (c *negativeCache) len() int {
	if !c.enabled() {
		return 0
	}
	return c.entries.Len()
}
