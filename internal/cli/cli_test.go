package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/db/memory"
	"docrag/internal/domain/rag"
)

const sampleText = "Solar output in the northern valley doubled after the new panels were installed last spring."

type fakeHistory map[string]*rag.IngestResult

func (h fakeHistory) Latest(_ context.Context, id string) (*rag.IngestResult, error) {
	if r, ok := h[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: no ingest of %s", rag.ErrNotFound, id)
}

// testBackend records the files each command asked to read.
type testBackend struct {
	files [][]string
}

// setupTestPipeline points connect at an in-memory pipeline shared by the
// commands of one test. history may be nil.
func setupTestPipeline(t *testing.T, history ingestHistory) *testBackend {
	t.Helper()
	cfg := rag.DefaultConfig()
	p, err := rag.NewPipeline(cfg, rag.Deps{Store: memory.NewStore(), CacheStore: memory.NewCacheStore()})
	require.NoError(t, err)

	tb := &testBackend{}
	orig := connect
	connect = func(_ context.Context, files []string) (*backend, error) {
		tb.files = append(tb.files, files)
		return &backend{pipeline: p, history: history, close: func() {}}, nil
	}
	t.Cleanup(func() {
		connect = orig
		outputJSON = false
		ingestID = ""
	})
	return tb
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeDoc(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestChunkCmd(t *testing.T) {
	para := strings.Repeat("Wind farms along the coast supply most of the region's power. ", 8)
	path := writeDoc(t, "wind.txt", para+"\n\n"+para+"\n\n"+para)

	out, err := run(t, "chunk", "--max", "600", "--min", "100", "--overlap", "50", path)
	require.NoError(t, err)
	assert.Contains(t, out, "chunks")
	assert.Contains(t, out, "[0]")
}

func TestChunkCmdRejectsBadOptions(t *testing.T) {
	path := writeDoc(t, "a.txt", sampleText)
	_, err := run(t, "chunk", "--max", "100", "--overlap", "500", path)
	assert.Error(t, err)
	// restore flag defaults for later tests
	d := rag.DefaultConfig()
	chunkMax, chunkOverlap = d.ChunkMaxSize, d.ChunkOverlap
}

func TestChunkCmdRequiresFile(t *testing.T) {
	_, err := run(t, "chunk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestIngestThenSearch(t *testing.T) {
	setupTestPipeline(t, nil)
	path := writeDoc(t, "solar.txt", sampleText)

	out, err := run(t, "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK   "+path)

	out, err = run(t, "search", sampleText)
	require.NoError(t, err)
	assert.Contains(t, out, "solar.txt")
}

func TestIngestUnreadableFails(t *testing.T) {
	setupTestPipeline(t, nil)
	_, err := run(t, "ingest", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestIngestIDNeedsSingleFile(t *testing.T) {
	setupTestPipeline(t, nil)
	_, err := run(t, "ingest", "--id", "x", "a.txt", "b.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single file")
}

func TestAskAndSummarize(t *testing.T) {
	tb := setupTestPipeline(t, nil)
	path := writeDoc(t, "solar.md", sampleText)

	out, err := run(t, "ask", path, sampleText)
	require.NoError(t, err)
	assert.Contains(t, out, "solar.md")

	out, err = run(t, "summarize", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(extractive summary)")

	// only the named document is opened up, never the question
	assert.Equal(t, [][]string{{path}, {path}}, tb.files)
}

func TestStatusWithoutIngestLog(t *testing.T) {
	setupTestPipeline(t, nil)
	_, err := run(t, "status", "report.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestStatusShowsLatestIngest(t *testing.T) {
	setupTestPipeline(t, fakeHistory{
		"report.pdf": {DocumentID: "report.pdf", IndexName: "file-report-2026-10-18", Status: rag.StatusPartial, Requested: 4, Upserted: 3, FailedKeys: []string{"report.pdf:3"}},
	})

	out, err := run(t, "status", "report.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "report.pdf: partial in file-report-2026-10-18")
	assert.Contains(t, out, "chunks 3/4")
	assert.Contains(t, out, "report.pdf:3")

	_, err = run(t, "status", "other.pdf")
	assert.ErrorIs(t, err, rag.ErrNotFound)
}

func TestSearchJSON(t *testing.T) {
	setupTestPipeline(t, nil)
	out, err := run(t, "search", "--json", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "no_results"`)
}
