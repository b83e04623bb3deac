package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainrag "docrag/internal/domain/rag"
)

// openTestDB connects to DOCRAG_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DOCRAG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DOCRAG_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestToFloat64(t *testing.T) {
	assert.Equal(t, []float64{1, -0.5, 0}, toFloat64([]float32{1, -0.5, 0}))
	assert.Empty(t, toFloat64(nil))
}

func TestVectorStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewVectorStore(db)
	require.NoError(t, s.EnsureSchema(ctx))

	name := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM rag_vector_indices WHERE name = $1`, name) })

	created, err := s.CreateIndex(ctx, name, 2, "cosine")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateIndex(ctx, name, 2, "cosine")
	require.NoError(t, err)
	assert.False(t, created)

	res, err := s.Upsert(ctx, name, []domainrag.VectorRecord{
		{Key: "a", Embedding: []float32{1, 0}, Metadata: map[string]any{domainrag.MetaContent: "alpha"}},
		{Key: "b", Embedding: []float32{0, 1}, Metadata: map[string]any{}},
		{Key: "bad", Embedding: []float32{1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, []string{"bad"}, res.FailedKeys)

	hits, err := s.Query(ctx, name, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "alpha", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-9)

	require.NoError(t, s.DeleteRecords(ctx, name, []string{"a"}))
	hits, err = s.Query(ctx, name, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = s.Query(ctx, name+"-missing", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, domainrag.ErrNotFound)

	log := NewIngestLog(db)
	require.NoError(t, log.RecordIngest(ctx, &domainrag.IngestResult{
		DocumentID: name, IndexName: name, Status: domainrag.StatusPartial, Requested: 3, Upserted: 2, FailedKeys: []string{"bad"},
	}))
	latest, err := log.Latest(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, domainrag.StatusPartial, latest.Status)
	assert.Equal(t, []string{"bad"}, latest.FailedKeys)
}
