package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "docrag/internal/domain/rag"
)

// CacheStore keeps document cache entries as JSON values. The TTL bounds
// how long an entry that is never queried survives.
type CacheStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

var _ domainrag.CacheStore = (*CacheStore)(nil)

func NewCacheStore(rdb *redis.Client, ttlSeconds int) *CacheStore {
	ttl := time.Hour
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &CacheStore{
		redis:  rdb,
		ttl:    ttl,
		prefix: "rag:doc:",
	}
}

func (s *CacheStore) Put(ctx context.Context, entry *domainrag.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.redis.Set(ctx, s.prefix+entry.Key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put cache entry %s: %w", entry.Key, err)
	}
	return nil
}

func (s *CacheStore) Get(ctx context.Context, key string) (*domainrag.CacheEntry, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domainrag.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry %s: %w", key, err)
	}

	var entry domainrag.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &entry, nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}
