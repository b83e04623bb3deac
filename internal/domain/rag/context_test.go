package rag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageHit(key, doc string, start, end int, sim float64, content string) SearchHit {
	meta := map[string]any{MetaDocumentID: doc}
	if start > 0 {
		meta[MetaPageStart] = start
		meta[MetaPageEnd] = end
	}
	return SearchHit{Key: key, SourceIndex: "idx-" + doc, Similarity: sim, Content: content, Metadata: meta}
}

func TestPageReference(t *testing.T) {
	assert.Equal(t, "page 15", PageReference(15, 15))
	assert.Equal(t, "pages 15-18", PageReference(15, 18))
	assert.Equal(t, "report.pdf (page 15)", Citation("report.pdf", 15, 15, true))
	assert.Equal(t, "report.pdf (pages 15-18)", Citation("report.pdf", 15, 18, true))
	assert.Equal(t, "report.pdf", Citation("report.pdf", 0, 0, false))
}

func TestBuildContextGroupsByDocument(t *testing.T) {
	hits := []SearchHit{
		pageHit("r:3", "report.pdf", 7, 8, 0.95, "Margins improved."),
		pageHit("m:0", "memo.txt", 0, 0, 0.90, "Hiring is paused."),
		pageHit("r:1", "report.pdf", 2, 2, 0.80, "Revenue grew."),
	}
	b := BuildContext(hits)

	assert.Equal(t, 3, b.TotalSimilarChunks)
	assert.Equal(t, []string{
		"report.pdf (pages 7-8)",
		"memo.txt",
		"report.pdf (page 2)",
	}, b.Citations)
	assert.Equal(t, "report.pdf (pages 7-8)", b.Chunks[0].Citation)

	require.Len(t, b.DocumentSummary, 2)
	report := b.DocumentSummary[0]
	assert.Equal(t, "report.pdf", report.DocumentID)
	assert.Equal(t, 2, report.RelevantChunks)
	assert.Equal(t, []int{2, 7, 8}, report.RelevantPages)
	assert.InDelta(t, 0.875, report.AverageScore, 1e-9)

	memo := b.DocumentSummary[1]
	assert.Empty(t, memo.RelevantPages)

	want := "=== report.pdf (pages 2-8) ===\n" +
		"[page 2] Revenue grew.\n" +
		"[pages 7-8] Margins improved.\n\n" +
		"=== memo.txt ===\n" +
		"Hiring is paused."
	assert.Equal(t, want, b.ContextString)
}

func TestBuildContextFallsBackToFilenameThenIndex(t *testing.T) {
	hits := []SearchHit{
		{Key: "1", SourceIndex: "file-a-2026-01-01", Metadata: map[string]any{MetaFilename: "a.pdf"}},
		{Key: "2", SourceIndex: "knowledge-base"},
	}
	b := BuildContext(hits)
	assert.Equal(t, []string{"a.pdf", "knowledge-base"}, b.Citations)
}

func TestBuildContextEmpty(t *testing.T) {
	b := BuildContext(nil)
	assert.Equal(t, 0, b.TotalSimilarChunks)
	assert.Empty(t, b.ContextString)
	assert.NotNil(t, b.DocumentSummary)
}

func TestMetaIntAcceptsDecodedNumbers(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"page_start": 4, "page_end": "6"}`), &decoded))

	start, end, ok := HitPages(SearchHit{Metadata: decoded})
	assert.True(t, ok)
	assert.Equal(t, 4, start)
	assert.Equal(t, 6, end)

	_, ok = MetaInt(map[string]any{"x": true}, "x")
	assert.False(t, ok)
}
