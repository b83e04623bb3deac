package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docrag/internal/domain/rag"
)

// AppConfig is loaded once at startup and split per module.
type AppConfig struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Server    ServerConfig   `json:"server" yaml:"server"`
	Database  DatabaseConfig `json:"database" yaml:"database"`
	Redis     RedisConfig    `json:"redis" yaml:"redis"`
	Auth      AuthConfig     `json:"auth" yaml:"auth"`
	OpenAI    OpenAIConfig   `json:"openai" yaml:"openai"`
	Summary   SummaryConfig  `json:"summary" yaml:"summary"`
	Watcher   WatcherConfig  `json:"watcher" yaml:"watcher"`
	RAG       rag.Config     `json:"rag" yaml:"rag"`
}

type ServerConfig struct {
	Host                string `json:"host" yaml:"host"`
	Port                int    `json:"port" yaml:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url" yaml:"url"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig is optional. Without it the document cache and the embedding
// cache live in process memory.
type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer" yaml:"jwt_issuer"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

type SummaryConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// WatcherConfig enables auto-ingestion of files dropped into InboxDir.
type WatcherConfig struct {
	InboxDir string `json:"inbox_dir" yaml:"inbox_dir"`
}

func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 600,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Summary: SummaryConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		RAG: *ragCfg,
	}
}

// Load reads defaults, then APP_CONFIG_FILE (JSON, or YAML for .yaml/.yml),
// then environment variables.
func Load() (*AppConfig, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("SUMMARY_LLM_PROVIDER", &c.Summary.Provider)
	applyString("SUMMARY_LLM_MODEL", &c.Summary.Model)

	applyString("INBOX_DIR", &c.Watcher.InboxDir)

	// RAG
	r := &c.RAG
	applyString("RAG_VECTOR_STORE", &r.VectorStore)
	applyString("OPENSEARCH_URL", &r.OpenSearchURL)
	applyString("OPENSEARCH_USERNAME", &r.OpenSearchUsername)
	applyString("OPENSEARCH_PASSWORD", &r.OpenSearchPassword)
	applyBool("OPENSEARCH_INSECURE", &r.OpenSearchInsecure)
	applyString("OPENSEARCH_INDEX_PREFIX", &r.IndexPrefix)
	applyList("RAG_SHARED_INDICES", &r.SharedIndices)
	applyString("RAG_WORKING_INDEX", &r.WorkingIndex)

	applyString("RAG_EMBEDDING_PROVIDER", &r.EmbeddingProvider)
	applyString("RAG_EMBEDDING_MODEL", &r.EmbeddingModel)
	applyInt("RAG_EMBEDDING_DIMS", &r.EmbeddingDims)
	applyInt("RAG_EMBEDDING_CONCURRENCY", &r.EmbeddingConcurrency)
	applyInt("RAG_EMBEDDING_WAVE_DELAY_MS", &r.EmbeddingWaveDelayMs)
	applyInt("RAG_EMBEDDING_MAX_RETRIES", &r.EmbeddingMaxRetries)
	applyInt("RAG_EMBEDDING_BACKOFF_MS", &r.EmbeddingBackoffMs)
	applyFloat64("RAG_EMBEDDING_RPS", &r.EmbeddingRPS)

	applyString("RAG_CHUNK_STRATEGY", &r.ChunkStrategy)
	applyInt("RAG_CHUNK_SIZE", &r.ChunkMaxSize)
	applyInt("RAG_CHUNK_MIN_SIZE", &r.ChunkMinSize)
	applyInt("RAG_CHUNK_OVERLAP", &r.ChunkOverlap)

	applyInt("RAG_TOP_K_PER_INDEX", &r.TopKPerIndex)
	applyInt("RAG_GLOBAL_TOP_K", &r.GlobalTopK)
	applyFloat64("RAG_MIN_SIMILARITY", &r.MinSimilarity)
	applyInt("RAG_MAX_FANOUT", &r.MaxFanout)

	applyInt("RAG_UPSERT_BATCH_SIZE", &r.UpsertBatchSize)
	applyInt("RAG_UPSERT_MAX_RETRIES", &r.UpsertMaxRetries)
	applyInt("RAG_INGEST_TIMEOUT", &r.IngestTimeoutSeconds)

	applyInt("RAG_CACHE_TTL", &r.CacheTTL)
	applyInt("RAG_EMBEDDING_CACHE_TTL", &r.EmbeddingCacheTTL)
	applyString("RAG_TEMP_DIR", &r.TempDir)
	applyList("RAG_DOCUMENT_ROOTS", &r.DocumentRoots)
	applyInt("RAG_MAX_FILE_SIZE", &r.MaxFileSize)

	applyString("GRAPH_FUNCTION_URL", &r.Graph.FunctionURL)
	applyString("GRAPH_FUNCTION_API_KEY", &r.Graph.APIKey)
	applyInt("GRAPH_BATCH_SIZE", &r.Graph.BatchSize)
	applyInt("GRAPH_MAX_RETRIES", &r.Graph.MaxRetries)
	applyBool("GRAPH_EXTRACT_ENTITIES", &r.Graph.ExtractEntity)
}

func (c *AppConfig) normalize() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.RAG.VectorStore = strings.ToLower(strings.TrimSpace(c.RAG.VectorStore))
	if c.RAG.VectorStore == "" {
		c.RAG.VectorStore = rag.BackendMemory
	}
	// an OpenAI key without an explicit embedding setup enables OpenAI embeddings
	if c.RAG.EmbeddingProvider == "" && c.OpenAI.APIKey != "" {
		c.RAG.EmbeddingProvider = "openai"
	}
	if c.RAG.EmbeddingProvider != "" && c.RAG.EmbeddingModel == "" {
		c.RAG.EmbeddingModel = "text-embedding-3-small"
	}
	if c.RAG.TempDir == "" {
		c.RAG.TempDir = filepath.Join(os.TempDir(), "docrag")
	}
}

func (c *AppConfig) validate() error {
	if c.RAG.VectorStore == rag.BackendPostgres && strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres vector store")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag config: %w", err)
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// applyList reads a comma separated list.
func applyList(key string, target *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*target = out
}
