// Package bootstrap builds the pipeline and its collaborators from
// AppConfig. It is shared by the server and the CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"docrag/internal/adapter/graph"
	"docrag/internal/db/memory"
	"docrag/internal/db/opensearch"
	"docrag/internal/db/postgres"
	redisdb "docrag/internal/db/redis"
	"docrag/internal/domain/rag"
	"docrag/internal/platform/config"
	applog "docrag/internal/platform/log"
	"docrag/internal/provider"
	"docrag/internal/tool"
	ragtool "docrag/internal/tool/rag"
)

const pingTimeout = 5 * time.Second

// App is a wired pipeline plus the resources it holds.
type App struct {
	Config    *config.AppConfig
	Pipeline  *rag.Pipeline
	Tools     *tool.Registry
	Providers *provider.Registry
	IngestLog *postgres.IngestLog // nil without a database

	db    *sql.DB
	redis *goredis.Client
}

// Build connects the configured backends and assembles the pipeline.
func Build(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{Config: cfg, Providers: provider.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	RegisterLLMProviders(app.Providers, cfg.OpenAI)

	deps := rag.Deps{
		Parsers:    rag.NewParserRegistry().WithMaxFileSize(cfg.RAG.MaxFileSize),
		Summarizer: summarizerFor(app.Providers, cfg.Summary),
	}

	if cfg.Database.URL != "" {
		if err := app.connectPostgres(ctx); err != nil {
			return nil, err
		}
		if app.IngestLog != nil {
			deps.IngestLog = app.IngestLog
		}
	}

	store, err := app.vectorStore(ctx)
	if err != nil {
		return nil, err
	}
	deps.Store = store

	deps.CacheStore = memory.NewCacheStore()
	if rdb := connectRedis(ctx, cfg.Redis.URL); rdb != nil {
		app.redis = rdb
		deps.CacheStore = redisdb.NewCacheStore(rdb, cfg.RAG.CacheTTL)
		deps.Locker = redisdb.NewKeyLock(rdb)
		if cfg.RAG.HasEmbeddingCache() {
			ec := redisdb.NewEmbeddingCache(rdb, cfg.RAG.EmbeddingCacheTTL)
			ec.SwitchModel(ctx, cfg.RAG.EmbeddingModel)
			deps.EmbeddingCache = ec
			applog.Infof("[Bootstrap] Embedding cache ready (TTL: %ds)", cfg.RAG.EmbeddingCacheTTL)
		}
	}

	if cfg.RAG.HasEmbedding() {
		switch cfg.RAG.EmbeddingProvider {
		case "openai":
			if cfg.OpenAI.APIKey == "" {
				applog.Warn("[Bootstrap] OpenAI embeddings configured without OPENAI_API_KEY")
				break
			}
			deps.Embedder = rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
				BaseURL: cfg.OpenAI.BaseURL,
				APIKey:  cfg.OpenAI.APIKey,
				Model:   cfg.RAG.EmbeddingModel,
				Dims:    cfg.RAG.EmbeddingDims,
				Timeout: 60 * time.Second,
			})
			applog.Infof("[Bootstrap] Embedder ready (model: %s, dims: %d)", cfg.RAG.EmbeddingModel, cfg.RAG.EmbeddingDims)
		default:
			applog.Warn("[Bootstrap] Unknown embedding provider, using fallback embeddings", "provider", cfg.RAG.EmbeddingProvider)
		}
	}

	if cfg.RAG.HasGraph() {
		deps.Graph = graph.NewFunctionClient(cfg.RAG.Graph)
		applog.Info("[Bootstrap] Graph enrichment enabled", "batch_size", cfg.RAG.Graph.BatchSize)
	}

	ragCfg := cfg.RAG
	if cfg.Watcher.InboxDir != "" {
		ragCfg.DocumentRoots = append(slices.Clone(cfg.RAG.DocumentRoots), cfg.Watcher.InboxDir)
	}
	p, err := rag.NewPipeline(&ragCfg, deps)
	if err != nil {
		return nil, err
	}
	app.Pipeline = p
	app.Tools = tool.NewRegistry()
	ragtool.RegisterAll(app.Tools, p)

	applog.Infof("[Bootstrap] Pipeline ready (store: %s, parsers: %s)", cfg.RAG.VectorStore, deps.Parsers.SupportedTypes())
	ok = true
	return app, nil
}

// connectPostgres opens the database and prepares the RAG tables. Without
// the postgres vector store a failure only disables the ingest log.
func (a *App) connectPostgres(ctx context.Context) error {
	required := a.Config.RAG.VectorStore == rag.BackendPostgres
	db, err := openPostgres(ctx, a.Config.Database)
	if err != nil {
		if required {
			return err
		}
		applog.Warn("[Bootstrap] PostgreSQL unavailable, ingest log disabled", "error", err)
		return nil
	}
	if err := ensureSchema(ctx, db); err != nil {
		if required {
			db.Close()
			return err
		}
		applog.Warn("[Bootstrap] RAG tables unavailable, ingest log disabled", "error", err)
		db.Close()
		return nil
	}
	a.db = db
	a.IngestLog = postgres.NewIngestLog(db)
	applog.Info("[Bootstrap] RAG tables ready")
	return nil
}

func (a *App) vectorStore(ctx context.Context) (rag.VectorIndexStore, error) {
	cfg := &a.Config.RAG
	switch cfg.VectorStore {
	case rag.BackendOpenSearch:
		client := opensearch.NewClient(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("opensearch: %w", err)
		}
		applog.Info("[Bootstrap] Connected to OpenSearch", "url", cfg.OpenSearchURL)
		return client, nil
	case rag.BackendPostgres:
		if a.db == nil {
			return nil, fmt.Errorf("postgres vector store needs DATABASE_URL")
		}
		return postgres.NewVectorStore(a.db), nil
	default:
		applog.Info("[Bootstrap] Using in-memory vector store")
		return memory.NewStore(), nil
	}
}

// Replaced in tests.
var (
	openPostgres = openDatabase
	ensureSchema = func(ctx context.Context, db *sql.DB) error {
		return postgres.NewVectorStore(db).EnsureSchema(ctx)
	}
)

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	applog.Info("[Bootstrap] Connected to PostgreSQL")
	return db, nil
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// caches then live in process memory.
func connectRedis(ctx context.Context, url string) *goredis.Client {
	if url == "" {
		return nil
	}
	opt, err := goredis.ParseURL(url)
	if err != nil {
		applog.Warn("[Bootstrap] Invalid REDIS_URL, using in-memory caches", "error", err)
		return nil
	}
	client := goredis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		applog.Warn("[Bootstrap] Redis unreachable, using in-memory caches", "error", err)
		client.Close()
		return nil
	}
	applog.Info("[Bootstrap] Connected to Redis")
	return client
}

// Close waits for background graph writes and releases connections.
func (a *App) Close() error {
	if a.Pipeline != nil {
		a.Pipeline.Wait()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
