package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	applog "docrag/internal/platform/log"
	"docrag/internal/platform/retry"
)

// Deps are the collaborators of a Pipeline. Only Store and CacheStore are
// required.
type Deps struct {
	Store          VectorIndexStore
	CacheStore     CacheStore
	Embedder       Embedder       // nil: fallback embeddings only
	EmbeddingCache EmbeddingCache // nil: no embedding cache
	Locker         KeyLocker      // nil: in-process locking only
	Summarizer     *Summarizer    // nil: extractive summaries
	Graph          GraphEnricher  // nil: NoopGraph
	IngestLog      IngestLogger   // nil: outcomes are only logged
	Parsers        *ParserRegistry
}

// Pipeline wires chunking, embedding, indexing, retrieval and the document
// cache into the operations exposed to agents.
type Pipeline struct {
	cfg        *Config
	parsers    *ParserRegistry
	chunker    *Chunker
	batcher    *Batcher
	store      VectorIndexStore
	indices    *IndexManager
	aggregator *Aggregator
	cache      *DocumentCache
	summarizer *Summarizer
	graph      GraphEnricher
	ingestLog  IngestLogger
	sources    *sourceGuard

	background sync.WaitGroup
}

func NewPipeline(cfg *Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rag config: %w", err)
	}
	if deps.Store == nil || deps.CacheStore == nil {
		return nil, fmt.Errorf("rag pipeline needs a vector store and a cache store")
	}

	chunker, err := NewChunker(cfg.ChunkOptions())
	if err != nil {
		return nil, err
	}

	bopts := cfg.BatcherOptions()
	if cfg.EmbeddingRPS > 0 {
		bopts.Limiter = rate.NewLimiter(rate.Limit(cfg.EmbeddingRPS), max(1, cfg.EmbeddingConcurrency))
	}
	if deps.EmbeddingCache != nil {
		bopts.Cache = deps.EmbeddingCache
		bopts.CacheModel = cfg.EmbeddingModel
	}
	if deps.Embedder == nil {
		applog.Warn("[RAG] No embedding provider configured, using fallback embeddings", "dims", cfg.EmbeddingDims)
	}

	p := &Pipeline{
		cfg:        cfg,
		parsers:    deps.Parsers,
		chunker:    chunker,
		batcher:    NewBatcher(deps.Embedder, bopts),
		store:      deps.Store,
		indices:    NewIndexManager(deps.Store, cfg.IndexPrefix, cfg.SharedIndices, cfg.WorkingIndex),
		aggregator: NewAggregator(deps.Store),
		summarizer: deps.Summarizer,
		graph:      deps.Graph,
		ingestLog:  deps.IngestLog,
	}
	p.sources = newSourceGuard(append([]string{cfg.TempDir}, cfg.DocumentRoots...)...)
	if p.parsers == nil {
		p.parsers = NewParserRegistry().WithMaxFileSize(cfg.MaxFileSize)
	}
	if p.graph == nil {
		p.graph = NoopGraph{}
	}

	cacheOpts := []DocumentCacheOption{
		WithLoader(p.derive),
		WithVectorCleanup(deps.Store),
	}
	if deps.Locker != nil {
		cacheOpts = append(cacheOpts, WithKeyLocker(deps.Locker, 2*time.Minute))
	}
	p.cache = NewDocumentCache(deps.CacheStore, cacheOpts...)
	return p, nil
}

func (p *Pipeline) Chunker() *Chunker        { return p.chunker }
func (p *Pipeline) Parsers() *ParserRegistry { return p.parsers }
func (p *Pipeline) Cache() *DocumentCache    { return p.cache }

// Wait blocks until background graph enrichment has finished.
func (p *Pipeline) Wait() { p.background.Wait() }

// ── Working documents ──────────────────────────────────────

// ProcessDocument parses, chunks and embeds the file at path and caches the
// result under its absolute path. The error is set only when the file cannot
// be read or ctx is done.
func (p *Pipeline) ProcessDocument(ctx context.Context, path string) (*ProcessResult, error) {
	return p.process(ctx, path, "", false)
}

// ProcessUpload is ProcessDocument for an uploaded temp file, which is
// deleted together with the cache entry.
func (p *Pipeline) ProcessUpload(ctx context.Context, tempPath, filename string) (*ProcessResult, error) {
	return p.process(ctx, tempPath, filename, true)
}

func (p *Pipeline) process(ctx context.Context, path, filename string, temp bool) (*ProcessResult, error) {
	start := time.Now()
	key := DocumentCacheKey(path)
	if filename == "" {
		filename = filepath.Base(path)
	}
	res := &ProcessResult{Key: key, Filename: filename}

	entry, err := p.buildEntry(ctx, key, filename)
	if err != nil {
		res.Status = StatusFailed
		res.Error = "could not process this document: " + err.Error()
		return res, err
	}
	if temp {
		entry.TempPath = key
	}
	if err := p.cache.Put(ctx, entry); err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, fmt.Errorf("cache document: %w", err)
	}

	res.Success = true
	res.Status = StatusProcessed
	res.ChunkCount = len(entry.Chunks)
	res.Pages, _ = MetaInt(entry.Metadata, "pages")
	res.Message = fmt.Sprintf("Processed %s into %d chunks", filename, len(entry.Chunks))
	applog.Info("[RAG] Document processed",
		"key", key,
		"chunks", len(entry.Chunks),
		"pages", res.Pages,
		"degraded", p.batcher.Degraded(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// derive re-creates a cache entry after a miss. An upload temp file keeps
// its TempPath so the lease still deletes it.
func (p *Pipeline) derive(ctx context.Context, key string) (*CacheEntry, error) {
	entry, err := p.buildEntry(ctx, key, filepath.Base(key))
	if err != nil {
		return nil, err
	}
	if isUploadTemp(p.cfg.TempDir, key) {
		entry.TempPath = key
	}
	return entry, nil
}

// parseSource parses a file after checking it lies under the document roots.
func (p *Pipeline) parseSource(path string) (*ParseResult, error) {
	abs, err := p.sources.check(path)
	if err != nil {
		applog.Warn("[RAG] Source rejected", "path", path, "error", err)
		return nil, err
	}
	return p.parsers.ParseFile(abs)
}

func (p *Pipeline) buildEntry(ctx context.Context, path, filename string) (*CacheEntry, error) {
	parsed, err := p.parseSource(path)
	if err != nil {
		return nil, err
	}
	chunks, err := p.chunker.Chunk(parsed.Content, parsed.Pages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if err := p.batcher.EmbedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	entry := &CacheEntry{
		Key:        path,
		Chunks:     chunks,
		SourcePath: path,
		Metadata: map[string]any{
			MetaFilename: filename,
			"pages":      parsed.Pages,
			"format":     parsed.Metadata["format"],
		},
		CreatedAt: time.Now(),
	}
	p.persistWorkingVectors(ctx, entry, filename)
	return entry, nil
}

// persistWorkingVectors copies the entry's vectors into the shared working
// index when one is configured. Failures leave the vectors in the cache only.
func (p *Pipeline) persistWorkingVectors(ctx context.Context, entry *CacheEntry, filename string) {
	index := p.cfg.WorkingIndex
	if index == "" || len(entry.Chunks) == 0 {
		return
	}
	if _, err := p.indices.EnsureIndex(ctx, index, p.batcher.Dims()); err != nil {
		applog.Warn("[RAG] Working index unavailable", "index", index, "error", err)
		return
	}

	workID := uuid.NewString()
	now := time.Now().UTC()
	records := make([]VectorRecord, len(entry.Chunks))
	for i, c := range entry.Chunks {
		records[i] = VectorRecord{
			Key:       fmt.Sprintf("work-%s-%d", workID, c.Index),
			Embedding: c.Embedding,
			Metadata:  chunkMetadata(filename, filename, c, len(entry.Chunks), now, map[string]any{"working_key": entry.Key}),
		}
	}
	upserted, failed := p.upsertAll(ctx, index, records)
	if len(failed) > 0 {
		applog.Warn("[RAG] Working vectors partially stored", "index", index, "upserted", upserted, "failed", len(failed))
	}

	entry.IndexName = index
	entry.VectorKeys = make([]string, 0, len(records))
	for _, r := range records {
		entry.VectorKeys = append(entry.VectorKeys, r.Key)
	}
}

// QueryDocument answers question from one processed document. The entry is
// re-derived when missing and removed afterwards in every case.
func (p *Pipeline) QueryDocument(ctx context.Context, key, question string) (*QueryResult, error) {
	key = DocumentCacheKey(key)
	res := &QueryResult{Query: question}
	if strings.TrimSpace(question) == "" {
		res.Status = StatusFailed
		res.Error = "question is empty"
		return res, nil
	}

	err := p.cache.Lease(ctx, key, func(entry *CacheEntry) error {
		qv, fallback := p.batcher.EmbedOne(ctx, question)
		if fallback && !p.batcher.Degraded() {
			applog.Warn("[RAG] Question embedded with fallback vector", "key", key)
		}

		filename, _ := entry.Metadata[MetaFilename].(string)
		if filename == "" {
			filename = filepath.Base(key)
		}
		ts := entry.CreatedAt.UTC()
		hits := make([]SearchHit, len(entry.Chunks))
		for i, c := range entry.Chunks {
			hits[i] = SearchHit{
				Key:         fmt.Sprintf("chunk-%d", c.Index),
				SourceIndex: key,
				Content:     c.Content,
				Metadata:    chunkMetadata(filename, filename, c, len(entry.Chunks), ts, nil),
				ScoreKind:   ScoreNone,
				Vector:      c.Embedding,
				Rank:        i,
			}
		}

		ranked, _ := RankHits(hits, qv, p.cfg.SearchOptions())
		p.fillQueryResult(res, ranked)
		res.IndicesQueried = 1
		return nil
	})
	if err != nil {
		res.Success = false
		res.Status = StatusFailed
		res.Error = "could not process this document: " + err.Error()
		return res, err
	}
	return res, nil
}

// SummarizeDocument summarizes one processed document and removes its entry.
func (p *Pipeline) SummarizeDocument(ctx context.Context, key string) (*SummaryResult, error) {
	key = DocumentCacheKey(key)
	res := &SummaryResult{Key: key}

	err := p.cache.Lease(ctx, key, func(entry *CacheEntry) error {
		title, _ := entry.Metadata[MetaFilename].(string)
		if title == "" {
			title = filepath.Base(key)
		}
		res.Summary, res.Extractive = p.summarizer.Summarize(ctx, title, entry.Chunks)
		res.ChunkCount = len(entry.Chunks)
		return nil
	})
	if err != nil {
		res.Status = StatusFailed
		res.Error = "could not process this document: " + err.Error()
		return res, err
	}
	res.Success = true
	res.Status = StatusSummarized
	return res, nil
}

// ── Permanent indices ──────────────────────────────────────

// IngestDocument indexes a document into its own vector index. The index is
// created before any embedding call; a failure there aborts the run. Uploads
// are keyed per chunk so a retried ingestion overwrites instead of
// duplicating.
func (p *Pipeline) IngestDocument(ctx context.Context, in IngestInput) (*IngestResult, error) {
	start := time.Now()
	if p.cfg.IngestTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.IngestTimeout())
		defer cancel()
	}

	docID, filename := in.DocumentID, in.Filename
	if filename == "" && in.Path != "" {
		filename = filepath.Base(in.Path)
	}
	if docID == "" {
		docID = filename
	}
	if filename == "" {
		filename = docID
	}
	res := &IngestResult{DocumentID: docID}
	finish := func(status string, err error) (*IngestResult, error) {
		res.Status = status
		res.Success = status != StatusFailed
		res.Elapsed = time.Since(start)
		if err != nil {
			res.Error = err.Error()
		}
		p.recordIngest(ctx, res)
		return res, nil
	}
	if docID == "" {
		return finish(StatusFailed, fmt.Errorf("document id, filename or path is required"))
	}

	text, pages := in.Text, in.TotalPages
	if strings.TrimSpace(text) == "" && in.Path != "" {
		parsed, err := p.parseSource(in.Path)
		if err != nil {
			res.Status = StatusFailed
			res.Error = "could not process this document: " + err.Error()
			res.Elapsed = time.Since(start)
			p.recordIngest(ctx, res)
			return res, err
		}
		text = parsed.Content
		if pages == 0 {
			pages = parsed.Pages
		}
	}

	res.IndexName = p.indices.IndexNameFor(docID)
	if _, err := p.indices.EnsureIndex(ctx, res.IndexName, p.batcher.Dims()); err != nil {
		applog.Error("[RAG] Index unavailable, ingestion aborted", "document", docID, "index", res.IndexName, "error", err)
		return finish(StatusFailed, err)
	}

	chunks, err := p.chunker.Chunk(text, pages)
	if err != nil {
		return finish(StatusFailed, err)
	}
	if err := p.batcher.EmbedChunks(ctx, chunks); err != nil {
		return finish(StatusFailed, fmt.Errorf("embed chunks: %w", err))
	}

	now := time.Now().UTC()
	records := make([]VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = VectorRecord{
			Key:       VectorKey(docID, c.Index),
			Embedding: c.Embedding,
			Metadata:  chunkMetadata(docID, filename, c, len(chunks), now, in.Metadata),
		}
	}
	res.Requested = len(records)
	res.Upserted, res.FailedKeys = p.upsertAll(ctx, res.IndexName, records)

	status := StatusIngested
	var upErr error
	switch {
	case res.Upserted == 0 && res.Requested > 0:
		status = StatusFailed
		upErr = fmt.Errorf("no vectors were stored in %s", res.IndexName)
	case len(res.FailedKeys) > 0:
		status = StatusPartial
		upErr = fmt.Errorf("%d of %d vectors were not stored", len(res.FailedKeys), res.Requested)
	}
	if ctx.Err() != nil && status != StatusIngested {
		upErr = fmt.Errorf("%w: %v", ctx.Err(), upErr)
	}

	applog.Info("[RAG] Document ingested",
		"document", docID,
		"index", res.IndexName,
		"status", status,
		"requested", res.Requested,
		"upserted", res.Upserted,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if status != StatusFailed {
		p.enrich(ctx, GraphDocument{
			DocumentID: docID,
			Filename:   filename,
			IndexName:  res.IndexName,
			ChunkCount: len(chunks),
			Pages:      pages,
		}, chunks, text)
	}
	return finish(status, upErr)
}

// upsertAll writes records in batches. A batch with failed keys is retried
// for those keys only. It returns the number stored and the keys that never
// were.
func (p *Pipeline) upsertAll(ctx context.Context, index string, records []VectorRecord) (int, []string) {
	size := p.cfg.UpsertBatchSize
	if size <= 0 {
		size = len(records)
	}
	if size == 0 {
		return 0, nil
	}

	pending := make([][]VectorRecord, (len(records)+size-1)/size)
	for b := range pending {
		pending[b] = records[b*size : min((b+1)*size, len(records))]
	}

	policy := retry.Policy{
		Attempts:  p.cfg.UpsertMaxRetries + 1,
		Backoff:   time.Duration(p.cfg.EmbeddingBackoffMs) * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Retryable: IsRetryable,
	}
	outcome := retry.Batches(ctx, policy, len(records), size, func(ctx context.Context, lo, _ int) error {
		b := lo / size
		batch := pending[b]
		res, err := p.store.Upsert(ctx, index, batch)
		if err != nil {
			return err
		}
		if len(res.FailedKeys) == 0 {
			pending[b] = nil
			return nil
		}
		pending[b] = onlyKeys(batch, res.FailedKeys)
		return fmt.Errorf("%w: %d of %d records not stored", ErrTransient, len(pending[b]), len(batch))
	})
	if outcome.Status != retry.StatusSucceeded {
		applog.Warn("[RAG] Upsert incomplete",
			"index", index,
			"status", outcome.Status,
			"batches", outcome.Batches,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	}

	var failed []string
	for _, rest := range pending {
		for _, r := range rest {
			failed = append(failed, r.Key)
		}
	}
	return len(records) - len(failed), failed
}

func onlyKeys(records []VectorRecord, keys []string) []VectorRecord {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []VectorRecord
	for _, r := range records {
		if want[r.Key] {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pipeline) recordIngest(ctx context.Context, res *IngestResult) {
	if p.ingestLog == nil {
		return
	}
	if err := p.ingestLog.RecordIngest(context.WithoutCancel(ctx), res); err != nil {
		applog.Warn("[RAG] Ingest log write failed", "document", res.DocumentID, "error", err)
	}
}

// enrich writes the graph in the background. Every failure is logged and
// dropped.
func (p *Pipeline) enrich(ctx context.Context, doc GraphDocument, chunks []Chunk, text string) {
	if _, noop := p.graph.(NoopGraph); noop {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.enrichTimeout())
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		defer cancel()

		if err := p.graph.CreateDocumentNode(ctx, doc); err != nil {
			applog.Warn("[Graph] Document node failed", "document", doc.DocumentID, "error", err)
		}
		if err := p.graph.CreateChunkNodes(ctx, doc.DocumentID, chunks); err != nil {
			applog.Warn("[Graph] Chunk nodes failed", "document", doc.DocumentID, "error", err)
		}
		if !p.cfg.Graph.ExtractEntity || p.summarizer == nil {
			return
		}
		ex := p.summarizer.ExtractEntities(ctx, text)
		if len(ex.Entities) > 0 {
			if err := p.graph.CreateEntityNodes(ctx, doc.DocumentID, ex.Entities); err != nil {
				applog.Warn("[Graph] Entity nodes failed", "document", doc.DocumentID, "error", err)
			}
		}
		if len(ex.Relationships) > 0 {
			if err := p.graph.CreateRelationships(ctx, doc.DocumentID, ex.Relationships); err != nil {
				applog.Warn("[Graph] Relationships failed", "document", doc.DocumentID, "error", err)
			}
		}
	}()
}

func (p *Pipeline) enrichTimeout() time.Duration {
	if d := p.cfg.IngestTimeout(); d > 0 {
		return d
	}
	return 5 * time.Minute
}

// Search embeds question and searches every known index.
func (p *Pipeline) Search(ctx context.Context, question string) (*QueryResult, error) {
	res := &QueryResult{Query: question}
	if strings.TrimSpace(question) == "" {
		res.Status = StatusFailed
		res.Error = "question is empty"
		return res, nil
	}

	qv, _ := p.batcher.EmbedOne(ctx, question)
	indices := p.indices.KnownIndices(ctx)
	if len(indices) == 0 {
		p.fillQueryResult(res, nil)
		return res, nil
	}

	agg, err := p.aggregator.Search(ctx, qv, indices, p.cfg.SearchOptions())
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, err
	}
	p.fillQueryResult(res, agg.Hits)
	res.IndicesQueried = agg.IndicesQueried
	res.IndicesFailed = agg.IndicesFailed
	if len(agg.IndicesFailed) == agg.IndicesQueried && agg.IndicesQueried > 0 {
		res.Success = false
		res.Status = StatusFailed
		res.Error = "every index query failed"
	}
	return res, nil
}

func (p *Pipeline) fillQueryResult(res *QueryResult, hits []SearchHit) {
	res.Context = BuildContext(hits)
	res.Success = true
	if len(hits) == 0 {
		res.Status = StatusNoResults
		res.Message = "No relevant content found."
		return
	}
	res.Status = StatusFound
	res.Message = fmt.Sprintf("Found %d relevant passages.", len(hits))
}

// DocumentCacheKey is the cache key of a file: its cleaned absolute path.
func DocumentCacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// VectorKey is the stable record key of one chunk of a document.
func VectorKey(documentID string, chunkIndex int) string {
	slug := Slugify(documentID)
	if slug == "" {
		slug = "doc"
	}
	return fmt.Sprintf("%s-chunk-%d", slug, chunkIndex)
}

func chunkMetadata(docID, filename string, c Chunk, total int, ts time.Time, extra map[string]any) map[string]any {
	m := make(map[string]any, len(extra)+10)
	for k, v := range extra {
		m[k] = v
	}
	m[MetaContent] = c.Content
	m[MetaChunkIndex] = c.Index
	m[MetaTotalChunks] = total
	m[MetaDocumentID] = docID
	m[MetaFilename] = filename
	m[MetaTimestamp] = ts.Format(time.RFC3339)
	if c.PageStart > 0 {
		m[MetaPageStart] = c.PageStart
		m[MetaPageEnd] = c.PageEnd
		m[MetaPagesApproximate] = c.PagesApproximate
	}
	if c.Section != "" {
		m[MetaSection] = c.Section
	}
	return m
}

// IsUnreadable reports whether err means the source document could not be read.
func IsUnreadable(err error) bool { return errors.Is(err, ErrSourceUnreadable) }
