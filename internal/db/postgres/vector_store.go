package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	domainrag "docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
)

// VectorStore keeps vector indices in two tables and computes cosine
// similarity in SQL.
type VectorStore struct {
	db *sql.DB
}

var _ domainrag.VectorIndexStore = (*VectorStore)(nil)

func NewVectorStore(db *sql.DB) *VectorStore {
	return &VectorStore{db: db}
}

// EnsureSchema creates the index, vector and ingest log tables.
func (s *VectorStore) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS rag_vector_indices (
		name       TEXT PRIMARY KEY,
		dims       INT  NOT NULL,
		metric     TEXT NOT NULL DEFAULT 'cosine',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rag_vectors (
		index_name TEXT NOT NULL REFERENCES rag_vector_indices(name) ON DELETE CASCADE,
		key        TEXT NOT NULL,
		embedding  DOUBLE PRECISION[] NOT NULL,
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (index_name, key)
	);

	CREATE TABLE IF NOT EXISTS rag_ingest_log (
		id          UUID PRIMARY KEY,
		document_id TEXT NOT NULL,
		index_name  TEXT NOT NULL DEFAULT '',
		status      VARCHAR(32) NOT NULL,
		requested   INT NOT NULL DEFAULT 0,
		upserted    INT NOT NULL DEFAULT 0,
		failed_keys TEXT[] NOT NULL DEFAULT '{}',
		elapsed_ms  BIGINT NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_rag_ingest_log_document ON rag_ingest_log (document_id, created_at DESC);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure rag tables: %w", err)
	}
	return nil
}

func (s *VectorStore) CreateIndex(ctx context.Context, name string, dims int, metric string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rag_vector_indices (name, dims, metric) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		name, dims, metric)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	existing, err := s.indexDims(ctx, name)
	if err != nil {
		return false, err
	}
	if existing != dims {
		return false, fmt.Errorf("index %s exists with dims %d, requested %d", name, existing, dims)
	}
	return false, nil
}

func (s *VectorStore) indexDims(ctx context.Context, name string) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dims FROM rag_vector_indices WHERE name = $1`, name).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: index %s", domainrag.ErrNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("read index %s: %w", name, err)
	}
	return dims, nil
}

// Upsert writes each record with ON CONFLICT DO UPDATE, so a repeated key
// overwrites. Records that fail are returned as failed keys.
func (s *VectorStore) Upsert(ctx context.Context, index string, records []domainrag.VectorRecord) (*domainrag.UpsertResult, error) {
	dims, err := s.indexDims(ctx, index)
	if err != nil {
		return nil, err
	}

	res := &domainrag.UpsertResult{}
	for _, r := range records {
		if len(r.Embedding) != dims {
			res.FailedKeys = append(res.FailedKeys, r.Key)
			continue
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			res.FailedKeys = append(res.FailedKeys, r.Key)
			continue
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO rag_vectors (index_name, key, embedding, metadata, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (index_name, key) DO UPDATE
			SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata, updated_at = NOW()`,
			index, r.Key, pq.Array(toFloat64(r.Embedding)), meta)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			applog.Warn("[RAG/Postgres] Upsert record failed", "index", index, "key", r.Key, "error", err)
			res.FailedKeys = append(res.FailedKeys, r.Key)
			continue
		}
		res.Upserted++
	}
	return res, nil
}

const cosineQuery = `
	SELECT v.key, v.metadata,
		(SELECT SUM(a * b) FROM unnest(v.embedding, $2::float8[]) AS t(a, b))
		/ NULLIF(
			sqrt((SELECT SUM(a * a) FROM unnest(v.embedding) AS t(a)))
			* sqrt((SELECT SUM(b * b) FROM unnest($2::float8[]) AS t(b))), 0) AS score
	FROM rag_vectors v
	WHERE v.index_name = $1
	ORDER BY score DESC NULLS LAST, v.key
	LIMIT $3`

// Query returns genuine cosine similarities.
func (s *VectorStore) Query(ctx context.Context, index string, vector []float32, topK int) ([]domainrag.SearchHit, error) {
	if _, err := s.indexDims(ctx, index); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx, cosineQuery, index, pq.Array(toFloat64(vector)), topK)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", index, err)
	}
	defer rows.Close()

	var hits []domainrag.SearchHit
	for rows.Next() {
		var (
			key   string
			raw   []byte
			score sql.NullFloat64
		)
		if err := rows.Scan(&key, &raw, &score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		var meta map[string]any
		if err := json.Unmarshal(raw, &meta); err != nil {
			applog.Warn("[RAG/Postgres] Bad metadata, skipping hit", "index", index, "key", key, "error", err)
			continue
		}
		content, _ := meta[domainrag.MetaContent].(string)
		hits = append(hits, domainrag.SearchHit{
			Key:       key,
			Content:   content,
			Metadata:  meta,
			Score:     score.Float64,
			ScoreKind: domainrag.ScoreCosine,
		})
	}
	return hits, rows.Err()
}

func (s *VectorStore) ListIndices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM rag_vector_indices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, fmt.Errorf("scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *VectorStore) DeleteRecords(ctx context.Context, index string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rag_vectors WHERE index_name = $1 AND key = ANY($2)`,
		index, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("delete records from %s: %w", index, err)
	}
	return nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
