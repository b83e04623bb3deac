package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	applog "docrag/internal/platform/log"
	"docrag/internal/platform/retry"
)

// CacheEntry is the working state of one processed document.
type CacheEntry struct {
	Key        string         `json:"key"`
	Chunks     []Chunk        `json:"chunks"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SourcePath string         `json:"source_path,omitempty"`
	TempPath   string         `json:"temp_path,omitempty"` // deleted on Remove
	IndexName  string         `json:"index_name,omitempty"`
	VectorKeys []string       `json:"vector_keys,omitempty"` // working vectors in IndexName, deleted on Remove
	CreatedAt  time.Time      `json:"created_at"`
}

// Loader re-derives an entry after a miss, e.g. by re-chunking the source file.
type Loader func(ctx context.Context, key string) (*CacheEntry, error)

// DocumentCache holds single-shot working state per document key. Every
// Lease ends with Remove, so an entry serves at most one query or summary.
type DocumentCache struct {
	store   CacheStore
	vectors VectorIndexStore
	locker  KeyLocker
	lockTTL time.Duration
	loader  Loader

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// DocumentCacheOption configures a DocumentCache.
type DocumentCacheOption func(*DocumentCache)

// WithVectorCleanup deletes an entry's working vectors on Remove.
func WithVectorCleanup(store VectorIndexStore) DocumentCacheOption {
	return func(c *DocumentCache) { c.vectors = store }
}

// WithKeyLocker adds a cross-process lock around each key.
func WithKeyLocker(l KeyLocker, ttl time.Duration) DocumentCacheOption {
	return func(c *DocumentCache) {
		c.locker = l
		c.lockTTL = ttl
	}
}

// WithLoader sets how a missing entry is re-derived.
func WithLoader(l Loader) DocumentCacheOption {
	return func(c *DocumentCache) { c.loader = l }
}

func NewDocumentCache(store CacheStore, opts ...DocumentCacheOption) *DocumentCache {
	c := &DocumentCache{
		store:   store,
		lockTTL: 2 * time.Minute,
		locks:   make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores entry under entry.Key, replacing any previous state. Working
// vectors and a temp file of the replaced entry are released unless entry
// still uses them.
func (c *DocumentCache) Put(ctx context.Context, entry *CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("cache entry without key")
	}
	unlock, err := c.lock(ctx, entry.Key)
	if err != nil {
		return err
	}
	defer unlock()

	if prev, err := c.store.Get(ctx, entry.Key); err == nil && prev != nil {
		stale := &CacheEntry{Key: prev.Key, IndexName: prev.IndexName}
		if prev.TempPath != entry.TempPath {
			stale.TempPath = prev.TempPath
		}
		keep := make(map[string]bool, len(entry.VectorKeys))
		if prev.IndexName == entry.IndexName {
			for _, k := range entry.VectorKeys {
				keep[k] = true
			}
		}
		for _, k := range prev.VectorKeys {
			if !keep[k] {
				stale.VectorKeys = append(stale.VectorKeys, k)
			}
		}
		c.release(ctx, stale)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return c.store.Put(ctx, entry)
}

// Get returns the entry for key, or nil when there is none.
func (c *DocumentCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	entry, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

// Remove drops the entry, its temp file and its working vectors. Errors are
// logged, never returned.
func (c *DocumentCache) Remove(ctx context.Context, key string) {
	unlock, err := c.lock(ctx, key)
	if err != nil {
		applog.Warn("[RAG/Cache] Remove without lock", "key", key, "error", err)
		c.removeLocked(ctx, key, nil)
		return
	}
	defer unlock()
	c.removeLocked(ctx, key, nil)
}

// Lease serializes access to key, loads the entry (re-deriving it on a miss),
// runs fn and then removes the entry whatever fn returned.
func (c *DocumentCache) Lease(ctx context.Context, key string, fn func(*CacheEntry) error) error {
	unlock, err := c.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	entry, err := c.Get(ctx, key)
	if err != nil {
		applog.Warn("[RAG/Cache] Get failed, re-deriving", "key", key, "error", err)
		entry = nil
	}
	if entry == nil {
		if c.loader == nil {
			return fmt.Errorf("%w: cache entry %q", ErrNotFound, key)
		}
		applog.Info("[RAG/Cache] Miss, re-deriving entry", "key", key)
		entry, err = c.loader(ctx, key)
		if err != nil {
			c.removeLocked(ctx, key, nil)
			return err
		}
	}

	defer c.removeLocked(ctx, key, entry)
	return fn(entry)
}

func (c *DocumentCache) removeLocked(ctx context.Context, key string, known *CacheEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	entry := known
	if stored, err := c.store.Get(ctx, key); err == nil && stored != nil {
		entry = stored
	}
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		applog.Warn("[RAG/Cache] Delete entry failed", "key", key, "error", err)
	}
	if entry == nil {
		return
	}
	c.release(ctx, entry)
	applog.Debug("[RAG/Cache] Entry removed", "key", key)
}

// release deletes the entry's temp file and working vectors.
func (c *DocumentCache) release(ctx context.Context, entry *CacheEntry) {
	key := entry.Key
	if entry.TempPath != "" {
		if err := os.Remove(entry.TempPath); err != nil && !os.IsNotExist(err) {
			applog.Warn("[RAG/Cache] Remove temp file failed", "key", key, "path", entry.TempPath, "error", err)
		}
	}
	if c.vectors != nil && entry.IndexName != "" && len(entry.VectorKeys) > 0 {
		if err := c.vectors.DeleteRecords(ctx, entry.IndexName, entry.VectorKeys); err != nil {
			applog.Warn("[RAG/Cache] Delete working vectors failed", "key", key, "index", entry.IndexName, "error", err)
		}
	}
}

// lock takes the in-process lock for key and, when configured, the shared lock.
func (c *DocumentCache) lock(ctx context.Context, key string) (func(), error) {
	c.mu.Lock()
	kl := c.locks[key]
	if kl == nil {
		kl = &keyLock{}
		c.locks[key] = kl
	}
	kl.refs++
	c.mu.Unlock()

	kl.mu.Lock()
	release := func() {
		kl.mu.Unlock()
		c.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}

	if c.locker == nil {
		return release, nil
	}
	if err := c.acquireShared(ctx, key); err != nil {
		release()
		return nil, err
	}
	return func() {
		if err := c.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			applog.Warn("[RAG/Cache] Shared unlock failed", "key", key, "error", err)
		}
		release()
	}, nil
}

func (c *DocumentCache) acquireShared(ctx context.Context, key string) error {
	deadline := time.Now().Add(c.lockTTL)
	for {
		ok, err := c.locker.TryLock(ctx, key, c.lockTTL)
		if err != nil {
			// a broken lock backend must not block the pipeline
			applog.Warn("[RAG/Cache] Shared lock unavailable, continuing with local lock", "key", key, "error", err)
			return nil
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cache key %q is busy", key)
		}
		if err := retry.Sleep(ctx, 50*time.Millisecond); err != nil {
			return err
		}
	}
}
