package rag

import "time"

// Chunk is one bounded segment of a document, in document order.
type Chunk struct {
	Index       int    `json:"index"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"` // rune offset into the source text
	EndOffset   int    `json:"end_offset"`

	// Pages are estimated from the chunk position, not read from the layout.
	PageStart        int  `json:"page_start,omitempty"`
	PageEnd          int  `json:"page_end,omitempty"`
	PagesApproximate bool `json:"pages_approximate,omitempty"`

	IsHeader       bool      `json:"is_header,omitempty"`
	HeaderLevel    int       `json:"header_level,omitempty"`
	Section        string    `json:"section,omitempty"`
	ParagraphCount int       `json:"paragraph_count"`
	Summary        string    `json:"summary,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
}

// ChunkStrategy selects the splitting policy.
type ChunkStrategy string

const (
	StrategyFixed     ChunkStrategy = "fixed"
	StrategyParagraph ChunkStrategy = "paragraph"
	StrategySection   ChunkStrategy = "section"
)

// ChunkOptions bounds chunk sizes in characters.
type ChunkOptions struct {
	MaxSize    int           `json:"max_size"`
	MinSize    int           `json:"min_size"`
	Overlap    int           `json:"overlap"`
	Strategy   ChunkStrategy `json:"strategy"`
	TotalPages int           `json:"total_pages,omitempty"` // 0: no page estimation
}

// VectorRecord is the unit of storage in a vector index.
type VectorRecord struct {
	Key       string         `json:"key"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

// UpsertResult reports partial success so callers can retry the shortfall.
type UpsertResult struct {
	Upserted   int      `json:"upserted"`
	FailedKeys []string `json:"failed_keys,omitempty"`
}

// ScoreKind tells the aggregator how to read SearchHit.Score.
type ScoreKind string

const (
	ScoreCosine     ScoreKind = "cosine"      // [-1, 1]
	ScoreDistance   ScoreKind = "distance"    // cosine distance [0, 2]
	ScoreUnitCosine ScoreKind = "unit_cosine" // (1+cos)/2, e.g. lucene cosinesimil
	ScoreNone       ScoreKind = "none"        // ordered only; Vector may be set
)

// SearchHit is one raw or normalized result from a vector index.
type SearchHit struct {
	Key         string         `json:"key"`
	SourceIndex string         `json:"source_index"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Score       float64        `json:"score"`
	ScoreKind   ScoreKind      `json:"score_kind"`
	Vector      []float32      `json:"-"`
	Similarity  float64        `json:"similarity"`
	Approximate bool           `json:"approximate,omitempty"` // similarity derived from rank
	Rank        int            `json:"rank"`
	Citation    string         `json:"citation,omitempty"`
}

// DocumentSummary aggregates the hits of one source document.
type DocumentSummary struct {
	DocumentID     string  `json:"document_id"`
	RelevantChunks int     `json:"relevant_chunks"`
	RelevantPages  []int   `json:"relevant_pages"`
	AverageScore   float64 `json:"average_score"`
}

// ContextBundle is the citation-grounded result handed to the LLM.
type ContextBundle struct {
	Chunks             []SearchHit       `json:"chunks"`
	DocumentSummary    []DocumentSummary `json:"document_summary"`
	Citations          []string          `json:"citations"`
	ContextString      string            `json:"context_string"`
	TotalSimilarChunks int               `json:"total_similar_chunks"`
	Approximate        bool              `json:"approximate,omitempty"`
}

// Result statuses.
const (
	StatusFound      = "found"
	StatusNoResults  = "no_results"
	StatusIngested   = "ingested"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
	StatusSummarized = "summarized"
	StatusProcessed  = "processed"
)

// ProcessResult is returned by Pipeline.ProcessDocument.
type ProcessResult struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Key        string `json:"key"`
	Filename   string `json:"filename,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Pages      int    `json:"pages,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// QueryResult is returned by document queries and knowledge searches.
type QueryResult struct {
	Success bool           `json:"success"`
	Status  string         `json:"status"`
	Query   string         `json:"query"`
	Context *ContextBundle `json:"context,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`

	IndicesQueried int      `json:"indices_queried,omitempty"`
	IndicesFailed  []string `json:"indices_failed,omitempty"`
}

// SummaryResult is returned by Pipeline.SummarizeDocument.
type SummaryResult struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Key        string `json:"key"`
	Summary    string `json:"summary,omitempty"`
	Extractive bool   `json:"extractive,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// IngestInput describes a document to be indexed permanently.
type IngestInput struct {
	DocumentID string         `json:"document_id"`
	Filename   string         `json:"filename,omitempty"`
	Text       string         `json:"text,omitempty"`
	Path       string         `json:"path,omitempty"` // parsed when Text is empty
	TotalPages int            `json:"total_pages,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IngestResult is the structured per-document ingestion outcome.
type IngestResult struct {
	Success    bool          `json:"success"`
	Status     string        `json:"status"`
	DocumentID string        `json:"document_id"`
	IndexName  string        `json:"index_name"`
	Requested  int           `json:"requested"`
	Upserted   int           `json:"upserted"`
	FailedKeys []string      `json:"failed_keys,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
}
