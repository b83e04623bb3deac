package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	domainrag "docrag/internal/domain/rag"
)

// IngestLog records one row per ingestion run. Tables come from
// VectorStore.EnsureSchema.
type IngestLog struct {
	db *sql.DB
}

var _ domainrag.IngestLogger = (*IngestLog)(nil)

func NewIngestLog(db *sql.DB) *IngestLog {
	return &IngestLog{db: db}
}

func (l *IngestLog) RecordIngest(ctx context.Context, r *domainrag.IngestResult) error {
	failed := r.FailedKeys
	if failed == nil {
		failed = []string{}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO rag_ingest_log
			(id, document_id, index_name, status, requested, upserted, failed_keys, elapsed_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), r.DocumentID, r.IndexName, r.Status, r.Requested, r.Upserted,
		pq.Array(failed), r.Elapsed.Milliseconds(), r.Error)
	if err != nil {
		return fmt.Errorf("record ingest of %s: %w", r.DocumentID, err)
	}
	return nil
}

// Latest returns the most recent outcome for a document.
func (l *IngestLog) Latest(ctx context.Context, documentID string) (*domainrag.IngestResult, error) {
	var (
		r         domainrag.IngestResult
		failed    pq.StringArray
		elapsedMs int64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT document_id, index_name, status, requested, upserted, failed_keys, elapsed_ms, error
		FROM rag_ingest_log
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, documentID).
		Scan(&r.DocumentID, &r.IndexName, &r.Status, &r.Requested, &r.Upserted, &failed, &elapsedMs, &r.Error)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no ingest of %s", domainrag.ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("read ingest log: %w", err)
	}
	r.FailedKeys = failed
	r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	r.Success = r.Status != domainrag.StatusFailed
	return &r, nil
}
