package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemorySize bounds the number of entries held by MemoryCache.
const DefaultMemorySize = 512

// MemoryCache is an in-process LRU with per-entry expiry. Used when Redis is not configured.
type MemoryCache struct {
	lru *expirable.LRU[string, *Entry]
}

// NewMemoryCache creates a MemoryCache. Non-positive arguments use the defaults.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, *Entry](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry) error {
	c.lru.Add(key, entry)
	return nil
}

// Len returns the number of unexpired entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

var _ Cache = (*MemoryCache)(nil)
