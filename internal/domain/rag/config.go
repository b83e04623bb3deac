package rag

import (
	"fmt"
	"strings"
	"time"
)

// Vector store backends.
const (
	BackendMemory     = "memory"
	BackendOpenSearch = "opensearch"
	BackendPostgres   = "postgres"
)

// Config holds the pipeline knobs. Loaded by platform/config.
type Config struct {
	// Vector store
	VectorStore        string   `json:"vector_store" yaml:"vector_store"`
	OpenSearchURL      string   `json:"opensearch_url" yaml:"opensearch_url"`
	OpenSearchUsername string   `json:"opensearch_username" yaml:"opensearch_username"`
	OpenSearchPassword string   `json:"opensearch_password" yaml:"opensearch_password"`
	OpenSearchInsecure bool     `json:"opensearch_insecure" yaml:"opensearch_insecure"`
	IndexPrefix        string   `json:"index_prefix" yaml:"index_prefix"`
	SharedIndices      []string `json:"shared_indices" yaml:"shared_indices"`
	WorkingIndex       string   `json:"working_index" yaml:"working_index"` // empty: working vectors stay in the cache only

	// Embedding
	EmbeddingProvider    string  `json:"embedding_provider,omitempty" yaml:"embedding_provider"`
	EmbeddingModel       string  `json:"embedding_model,omitempty" yaml:"embedding_model"`
	EmbeddingDims        int     `json:"embedding_dims" yaml:"embedding_dims"`
	EmbeddingConcurrency int     `json:"embedding_concurrency" yaml:"embedding_concurrency"`
	EmbeddingWaveDelayMs int     `json:"embedding_wave_delay_ms" yaml:"embedding_wave_delay_ms"`
	EmbeddingMaxRetries  int     `json:"embedding_max_retries" yaml:"embedding_max_retries"`
	EmbeddingBackoffMs   int     `json:"embedding_backoff_ms" yaml:"embedding_backoff_ms"`
	EmbeddingRPS         float64 `json:"embedding_rps" yaml:"embedding_rps"` // 0 = unlimited

	// Chunking
	ChunkStrategy string `json:"chunk_strategy" yaml:"chunk_strategy"`
	ChunkMaxSize  int    `json:"chunk_max_size" yaml:"chunk_max_size"`
	ChunkMinSize  int    `json:"chunk_min_size" yaml:"chunk_min_size"`
	ChunkOverlap  int    `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Retrieval
	TopKPerIndex  int     `json:"top_k_per_index" yaml:"top_k_per_index"`
	GlobalTopK    int     `json:"global_top_k" yaml:"global_top_k"`
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity"`
	MaxFanout     int     `json:"max_fanout" yaml:"max_fanout"`

	// Ingestion
	UpsertBatchSize      int `json:"upsert_batch_size" yaml:"upsert_batch_size"`
	UpsertMaxRetries     int `json:"upsert_max_retries" yaml:"upsert_max_retries"`
	IngestTimeoutSeconds int `json:"ingest_timeout_seconds" yaml:"ingest_timeout_seconds"`

	// Cache
	CacheTTL          int    `json:"cache_ttl" yaml:"cache_ttl"`                     // document cache TTL in seconds, redis only
	EmbeddingCacheTTL int    `json:"embedding_cache_ttl" yaml:"embedding_cache_ttl"` // 0 disables
	TempDir           string `json:"temp_dir" yaml:"temp_dir"`
	MaxFileSize       int    `json:"max_file_size" yaml:"max_file_size"` // MB

	// DocumentRoots are the directories source files may be read from, in
	// addition to TempDir. With neither set, any readable path is accepted.
	DocumentRoots []string `json:"document_roots" yaml:"document_roots"`

	Graph GraphConfig `json:"graph" yaml:"graph"`
}

// GraphConfig points at the serverless function that writes the knowledge graph.
type GraphConfig struct {
	FunctionURL    string `json:"function_url" yaml:"function_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	BatchSize      int    `json:"batch_size" yaml:"batch_size"`
	MaxRetries     int    `json:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	ExtractEntity  bool   `json:"extract_entities" yaml:"extract_entities"`
}

// DefaultConfig returns the defaults used before file and env overrides.
func DefaultConfig() *Config {
	return &Config{
		VectorStore:          BackendMemory,
		OpenSearchURL:        "https://localhost:9200",
		IndexPrefix:          "file",
		SharedIndices:        []string{"knowledge-base"},
		EmbeddingDims:        1536,
		EmbeddingConcurrency: 5,
		EmbeddingWaveDelayMs: 200,
		EmbeddingMaxRetries:  3,
		EmbeddingBackoffMs:   500,
		ChunkStrategy:        string(StrategyParagraph),
		ChunkMaxSize:         1000,
		ChunkMinSize:         200,
		ChunkOverlap:         100,
		TopKPerIndex:         5,
		GlobalTopK:           10,
		MinSimilarity:        0.7,
		MaxFanout:            8,
		UpsertBatchSize:      50,
		UpsertMaxRetries:     3,
		IngestTimeoutSeconds: 300,
		CacheTTL:             1800,
		EmbeddingCacheTTL:    86400,
		MaxFileSize:          50,
		Graph: GraphConfig{
			BatchSize:      20,
			MaxRetries:     3,
			TimeoutSeconds: 30,
			ExtractEntity:  true,
		},
	}
}

// ChunkOptions builds chunker options from the configured knobs.
func (c *Config) ChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxSize:  c.ChunkMaxSize,
		MinSize:  c.ChunkMinSize,
		Overlap:  c.ChunkOverlap,
		Strategy: ChunkStrategy(c.ChunkStrategy),
	}
}

// BatcherOptions builds embedding batcher options.
func (c *Config) BatcherOptions() BatcherOptions {
	return BatcherOptions{
		Concurrency: c.EmbeddingConcurrency,
		WaveDelay:   time.Duration(c.EmbeddingWaveDelayMs) * time.Millisecond,
		MaxRetries:  c.EmbeddingMaxRetries,
		Backoff:     time.Duration(c.EmbeddingBackoffMs) * time.Millisecond,
		Dims:        c.EmbeddingDims,
	}
}

// SearchOptions builds aggregator options.
func (c *Config) SearchOptions() SearchOptions {
	return SearchOptions{
		TopKPerIndex:  c.TopKPerIndex,
		GlobalTopK:    c.GlobalTopK,
		MinSimilarity: c.MinSimilarity,
		MaxFanout:     c.MaxFanout,
	}
}

// IngestTimeout is the overall deadline for one ingestion run.
func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.IngestTimeoutSeconds) * time.Second
}

// HasEmbedding reports whether a real embedding provider is configured.
func (c *Config) HasEmbedding() bool {
	return c.EmbeddingProvider != "" && c.EmbeddingModel != ""
}

// HasEmbeddingCache reports whether genuine embeddings should be cached.
func (c *Config) HasEmbeddingCache() bool {
	return c.EmbeddingCacheTTL > 0
}

// HasGraph reports whether graph enrichment is configured.
func (c *Config) HasGraph() bool {
	return strings.TrimSpace(c.Graph.FunctionURL) != ""
}

// Validate checks knob ranges. Missing embedding credentials are not an error.
func (c *Config) Validate() error {
	switch c.VectorStore {
	case BackendMemory, BackendOpenSearch, BackendPostgres:
	default:
		return fmt.Errorf("unknown vector store %q", c.VectorStore)
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding dims must be positive, got %d", c.EmbeddingDims)
	}
	if err := c.ChunkOptions().Validate(); err != nil {
		return err
	}
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		return fmt.Errorf("min similarity %.2f outside [-1, 1]", c.MinSimilarity)
	}
	return nil
}
