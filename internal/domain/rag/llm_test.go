package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/provider"
)

type stubLLM struct {
	reply string
	err   error
	last  *provider.CompletionRequest
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &provider.CompletionResponse{Content: s.reply}, nil
}

func TestParseLenientJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"plain", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"code fence", "```json\n{\"a\": [1, 2]}\n```", map[string]any{"a": []any{float64(1), float64(2)}}},
		{"prose around", `Sure! Here it is: {"a": "x"} Hope that helps.`, map[string]any{"a": "x"}},
		{"trailing commas", `{"a": [1, 2,], "b": "c",}`, map[string]any{"a": []any{float64(1), float64(2)}, "b": "c"}},
		{"raw newline in string", "{\"a\": \"line one\nline two\"}", map[string]any{"a": "line one\nline two"}},
		{"control characters", "{\"a\": \"x\x01y\"}\x02", map[string]any{"a": "xy"}},
		{"truncated", `{"a": ["one", "tw`, map[string]any{"a": []any{"one", "tw"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			require.NoError(t, ParseLenientJSON(tt.raw, &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var v map[string]any
	assert.Error(t, ParseLenientJSON("no json here", &v))
}

func TestParseExtractionDegradesToEmpty(t *testing.T) {
	got := ParseExtraction("I could not find anything")
	assert.NotNil(t, got.Entities)
	assert.Empty(t, got.Entities)
	assert.Empty(t, got.Relationships)

	got = ParseExtraction("```json\n{\"entities\":[{\"name\":\"Acme\",\"type\":\"org\"},{\"name\":\" \"}],\"relationships\":[{\"source\":\"Acme\",\"target\":\"\"},{\"source\":\"Acme\",\"target\":\"Bob\",\"type\":\"employs\"},]}\n```")
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "Acme", got.Entities[0].Name)
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, "employs", got.Relationships[0].Type)
}

func TestSummarizerUsesLLM(t *testing.T) {
	llm := &stubLLM{reply: "  A concise summary.  "}
	s := NewSummarizer(llm, "gpt-4o-mini")

	summary, extractive := s.Summarize(context.Background(), "report.pdf", []Chunk{{Content: "Revenue grew 12%."}})
	assert.False(t, extractive)
	assert.Equal(t, "A concise summary.", summary)
	require.NotNil(t, llm.last)
	assert.Equal(t, "gpt-4o-mini", llm.last.Model)
	assert.Contains(t, llm.last.Messages[1].Content, "Revenue grew 12%.")
}

func TestSummarizerFallsBackToExtractive(t *testing.T) {
	chunks := []Chunk{
		{Content: "Revenue grew 12%. Costs were flat."},
		{Content: "[Continued from: RESULTS]\nMargins widened! Hiring resumed."},
	}
	want := "Revenue grew 12%. Margins widened!"

	summary, extractive := NewSummarizer(nil, "").Summarize(context.Background(), "r", chunks)
	assert.True(t, extractive)
	assert.Equal(t, want, summary)

	summary, extractive = NewSummarizer(&stubLLM{err: errors.New("503")}, "m").Summarize(context.Background(), "r", chunks)
	assert.True(t, extractive)
	assert.Equal(t, want, summary)
}

func TestExtractEntitiesWithoutLLM(t *testing.T) {
	got := NewSummarizer(nil, "").ExtractEntities(context.Background(), "Acme hired Bob.")
	assert.Empty(t, got.Entities)
}
