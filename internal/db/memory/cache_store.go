package memory

import (
	"context"
	"fmt"
	"sync"

	"docrag/internal/domain/rag"
)

// CacheStore keeps document cache entries in a map.
type CacheStore struct {
	mu      sync.Mutex
	entries map[string]rag.CacheEntry
}

var _ rag.CacheStore = (*CacheStore)(nil)

func NewCacheStore() *CacheStore {
	return &CacheStore{entries: make(map[string]rag.CacheEntry)}
}

func (c *CacheStore) Put(_ context.Context, entry *rag.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key] = *entry
	return nil
}

func (c *CacheStore) Get(_ context.Context, key string) (*rag.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rag.ErrNotFound, key)
	}
	return &e, nil
}

func (c *CacheStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *CacheStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
