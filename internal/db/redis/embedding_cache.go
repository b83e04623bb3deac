package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
)

// EmbeddingCache caches genuine embeddings keyed by model and a hash of the text.
type EmbeddingCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

var _ domainrag.EmbeddingCache = (*EmbeddingCache)(nil)

func NewEmbeddingCache(rdb *redis.Client, ttlSeconds int) *EmbeddingCache {
	ttl := 24 * time.Hour
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &EmbeddingCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "rag:emb:",
	}
}

func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	key := c.cacheKey(model, text)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		applog.Warn("[RAG/EmbCache] Dropping unreadable entry", "key", key, "error", err)
		c.redis.Del(ctx, key)
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	key := c.cacheKey(model, text)
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[RAG/EmbCache] Failed to set", "key", key, "error", err)
	}
}

// InvalidateModel drops every cached vector of one model.
func (c *EmbeddingCache) InvalidateModel(ctx context.Context, model string) int {
	iter := c.redis.Scan(ctx, 0, c.prefix+model+":*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[RAG/EmbCache] Model invalidated", "model", model, "keys_deleted", len(keys))
	}
	return len(keys)
}

// SwitchModel records model as the active embedding model and drops the
// vectors of the model that was active before, if it differs. It returns the
// number of keys deleted.
func (c *EmbeddingCache) SwitchModel(ctx context.Context, model string) int {
	prev, err := c.redis.GetSet(ctx, c.prefix+"active", model).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		applog.Warn("[RAG/EmbCache] Active model unknown", "error", err)
		return 0
	}
	if prev == "" || prev == model {
		return 0
	}
	applog.Info("[RAG/EmbCache] Embedding model changed", "from", prev, "to", model)
	return c.InvalidateModel(ctx, prev)
}

// cacheKey = prefix + model + hash(text)
func (c *EmbeddingCache) cacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + fmt.Sprintf("%x", hash[:16])
}
