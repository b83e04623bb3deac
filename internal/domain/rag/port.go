package rag

import (
	"context"
	"time"
)

// VectorIndexStore is a named, dimension-typed vector store.
type VectorIndexStore interface {
	// CreateIndex is idempotent; created is false when the index already existed.
	CreateIndex(ctx context.Context, name string, dims int, metric string) (created bool, err error)
	// Upsert writes records keyed by Key. Partial success is reported, not raised.
	Upsert(ctx context.Context, index string, records []VectorRecord) (*UpsertResult, error)
	// Query returns hits ordered by the store's own relevance. An empty index yields no hits.
	Query(ctx context.Context, index string, vector []float32, topK int) ([]SearchHit, error)
	// ListIndices returns a best-effort list of index names.
	ListIndices(ctx context.Context) ([]string, error)
	DeleteRecords(ctx context.Context, index string, keys []string) error
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// EmbeddingCache stores genuine embeddings keyed by model and text.
type EmbeddingCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vector []float32)
}

// CacheStore persists document cache entries.
type CacheStore interface {
	Put(ctx context.Context, entry *CacheEntry) error
	Get(ctx context.Context, key string) (*CacheEntry, error) // ErrNotFound on miss
	Delete(ctx context.Context, key string) error
}

// KeyLocker serializes work on one cache key across processes.
type KeyLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// IngestLogger records per-document ingestion outcomes.
type IngestLogger interface {
	RecordIngest(ctx context.Context, result *IngestResult) error
}

// GraphEnricher writes document structure into a knowledge graph. Best-effort.
type GraphEnricher interface {
	CreateDocumentNode(ctx context.Context, doc GraphDocument) error
	CreateChunkNodes(ctx context.Context, documentID string, chunks []Chunk) error
	CreateEntityNodes(ctx context.Context, documentID string, entities []Entity) error
	CreateRelationships(ctx context.Context, documentID string, rels []Relationship) error
}

// GraphDocument is the document node payload.
type GraphDocument struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	IndexName  string `json:"index_name"`
	ChunkCount int    `json:"chunk_count"`
	Pages      int    `json:"pages,omitempty"`
}

// NoopGraph is used when no graph function is configured.
type NoopGraph struct{}

func (NoopGraph) CreateDocumentNode(context.Context, GraphDocument) error           { return nil }
func (NoopGraph) CreateChunkNodes(context.Context, string, []Chunk) error           { return nil }
func (NoopGraph) CreateEntityNodes(context.Context, string, []Entity) error         { return nil }
func (NoopGraph) CreateRelationships(context.Context, string, []Relationship) error { return nil }
