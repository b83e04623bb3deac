package rag

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	applog "docrag/internal/platform/log"
	"docrag/internal/platform/retry"
)

// BatcherOptions tunes Batcher.
type BatcherOptions struct {
	Concurrency int           // calls in flight per wave
	WaveDelay   time.Duration // pause between waves
	MaxRetries  int           // retries after the first call, on ErrRateLimited/ErrTransient
	Backoff     time.Duration // first retry delay, doubled per retry
	Dims        int           // fallback dimension when no embedder is set

	Limiter    *rate.Limiter  // optional token bucket across all calls
	Cache      EmbeddingCache // optional; only genuine vectors are stored
	CacheModel string
}

// Batcher drives an Embedder over many texts in bounded waves. Every input
// gets a vector: failed items get FallbackEmbedding.
type Batcher struct {
	embedder Embedder
	opts     BatcherOptions
}

// NewBatcher creates a batcher. embedder may be nil, in which case every
// vector is a fallback.
func NewBatcher(embedder Embedder, opts BatcherOptions) *Batcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Batcher{embedder: embedder, opts: opts}
}

// Dims is the vector dimension every output has.
func (b *Batcher) Dims() int {
	if b.embedder != nil {
		return b.embedder.Dims()
	}
	return b.opts.Dims
}

// Degraded reports whether all vectors will be fallbacks.
func (b *Batcher) Degraded() bool { return b.embedder == nil }

// EmbedMany returns one vector per text, in input order. The only error is
// ctx cancellation, checked between waves.
func (b *Batcher) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	start := time.Now()
	var fallbacks atomic.Int64
	waves := 0
	for lo := 0; lo < len(texts); lo += b.opts.Concurrency {
		if lo > 0 {
			if err := retry.Sleep(ctx, b.opts.WaveDelay); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+b.opts.Concurrency, len(texts))
		waves++

		var wg sync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vec, fallback := b.embedOne(ctx, texts[i])
				out[i] = vec
				if fallback {
					fallbacks.Add(1)
				}
			}(i)
		}
		wg.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	applog.Info("[RAG/Batcher] Embedded",
		"texts", len(texts),
		"waves", waves,
		"fallbacks", fallbacks.Load(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// EmbedOne embeds a single text. The boolean is true when the vector is a fallback.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, bool) {
	return b.embedOne(ctx, text)
}

// EmbedChunks attaches an embedding to every chunk.
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []Chunk) error {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vecs, err := b.EmbedMany(ctx, texts)
	if err != nil {
		return err
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	return nil
}

func (b *Batcher) embedOne(ctx context.Context, text string) ([]float32, bool) {
	dims := b.Dims()
	if b.embedder == nil {
		return FallbackEmbedding(text, dims), true
	}

	if b.opts.Cache != nil {
		if vec, ok := b.opts.Cache.Get(ctx, b.opts.CacheModel, text); ok && len(vec) == dims {
			return vec, false
		}
	}

	policy := retry.Policy{
		Attempts:  b.opts.MaxRetries + 1,
		Backoff:   b.opts.Backoff,
		MaxDelay:  30 * time.Second,
		Retryable: IsRetryable,
	}
	var vec []float32
	_, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if b.opts.Limiter != nil {
			if err := b.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, err := b.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		applog.Warn("[RAG/Batcher] Embedding failed, using fallback", "chars", len(text), "error", err)
		return FallbackEmbedding(text, dims), true
	}
	if len(vec) != dims {
		applog.Warn("[RAG/Batcher] Embedding dimension mismatch, using fallback", "got", len(vec), "want", dims)
		return FallbackEmbedding(text, dims), true
	}

	if b.opts.Cache != nil {
		b.opts.Cache.Set(ctx, b.opts.CacheModel, text, vec)
	}
	return vec, false
}
