package redisdb

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
)

// KeyLock is a SETNX lock per document cache key.
type KeyLock struct {
	client *redis.Client
	prefix string
}

var _ domainrag.KeyLocker = (*KeyLock)(nil)

func NewKeyLock(client *redis.Client) *KeyLock {
	return &KeyLock{
		client: client,
		prefix: "rag:lock:",
	}
}

func (l *KeyLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	acquired, err := l.client.SetNX(ctx, l.prefix+key, "locked", ttl).Result()
	if err != nil {
		applog.Warn("[RAG/KeyLock] Failed to acquire lock", "key", key, "error", err)
		return false, err
	}

	if acquired {
		applog.Debug("[RAG/KeyLock] Lock acquired", "key", key)
	} else {
		applog.Debug("[RAG/KeyLock] Lock already held", "key", key)
	}
	return acquired, nil
}

func (l *KeyLock) Unlock(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		applog.Warn("[RAG/KeyLock] Failed to release lock", "key", key, "error", err)
		return err
	}
	applog.Debug("[RAG/KeyLock] Lock released", "key", key)
	return nil
}
