package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain/rag"
	"docrag/internal/platform/config"
)

func TestBuildInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.TempDir = t.TempDir()
	docs := t.TempDir()
	cfg.RAG.DocumentRoots = []string{docs}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.IngestLog)
	assert.Empty(t, app.Providers.List())
	assert.True(t, app.Tools.Has("document_query"))
	assert.True(t, app.Tools.Has("knowledge_search"))

	path := filepath.Join(docs, "notes.md")
	text := "# Notes\n\n" + strings.Repeat("The quarterly revenue grew strongly in the north region. ", 10)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))

	ctx := context.Background()
	res, err := app.Pipeline.ProcessDocument(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, rag.StatusProcessed, res.Status)

	out, err := app.Tools.Execute(ctx, "summarize_document", `{"document":"`+path+`"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"summarized"`)
	assert.Contains(t, out, `"extractive":true`)

	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("The admin password is hunter2."), 0o600))
	out, err = app.Tools.Execute(ctx, "summarize_document", `{"document":"`+secret+`"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"failed"`)
	assert.NotContains(t, out, "hunter2")
}

func TestBuildAllowsInboxFiles(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.TempDir = t.TempDir()
	cfg.Watcher.InboxDir = t.TempDir()

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()
	assert.Empty(t, cfg.RAG.DocumentRoots, "the loaded config is left untouched")

	path := filepath.Join(cfg.Watcher.InboxDir, "drop.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("Inbox files are indexed on arrival. ", 10)), 0o600))
	res, err := app.Pipeline.IngestDocument(context.Background(), rag.IngestInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, rag.StatusIngested, res.Status)
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.OpenAI.APIKey = "sk-test"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, []string{"openai"}, app.Providers.List())

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("Short text that fits in a single chunk for the cache."), 0o600))
	_, err = app.Pipeline.ProcessDocument(context.Background(), path)
	// no embedding provider configured: fallback vectors
	require.NoError(t, err)

	keys := mr.Keys()
	var docKeys int
	for _, k := range keys {
		if strings.HasPrefix(k, "rag:doc:") {
			docKeys++
		}
	}
	assert.Equal(t, 1, docKeys)
}

func TestBuildUnreachableRedisFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.URL = "redis://127.0.0.1:1"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.redis)
}

func TestBuildPostgresWithoutDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.RAG.VectorStore = rag.BackendPostgres

	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func stubPostgres(t *testing.T, schemaErr error) {
	t.Helper()
	origOpen, origSchema := openPostgres, ensureSchema
	t.Cleanup(func() { openPostgres, ensureSchema = origOpen, origSchema })

	openPostgres = func(context.Context, config.DatabaseConfig) (*sql.DB, error) {
		// sql.Open does not connect
		return sql.Open("postgres", "postgres://docrag@127.0.0.1:1/docrag?sslmode=disable")
	}
	ensureSchema = func(context.Context, *sql.DB) error { return schemaErr }
}

func TestBuildSchemaFailureDisablesIngestLog(t *testing.T) {
	stubPostgres(t, errors.New("permission denied for schema public"))
	cfg := config.Default()
	cfg.Database.URL = "postgres://docrag@db/docrag"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.IngestLog)
	assert.Nil(t, app.db)

	res, err := app.Pipeline.IngestDocument(context.Background(), rag.IngestInput{DocumentID: "a.txt", Text: "Ingestion still works without the log."})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestBuildSchemaFailureIsFatalForPostgresStore(t *testing.T) {
	stubPostgres(t, errors.New("permission denied for schema public"))
	cfg := config.Default()
	cfg.Database.URL = "postgres://docrag@db/docrag"
	cfg.RAG.VectorStore = rag.BackendPostgres

	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "permission denied")
}

func TestBuildWithSchemaKeepsIngestLog(t *testing.T) {
	stubPostgres(t, nil)
	cfg := config.Default()
	cfg.Database.URL = "postgres://docrag@db/docrag"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()
	assert.NotNil(t, app.IngestLog)
}
