package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	applog "docrag/internal/platform/log"
	"docrag/internal/provider"
)

const (
	maxSummaryInputChars   = 12000
	maxExtractiveSentences = 8
	maxEntityInputChars    = 6000
)

// Entity is a named thing extracted from a document.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Relationship links two entities by name.
type Relationship struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Extraction is the entity extraction result. Empty on failure.
type Extraction struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Summarizer writes document summaries with an LLM and falls back to an
// extractive summary without one.
type Summarizer struct {
	llm   provider.LLMProvider
	model string
}

// NewSummarizer creates a summarizer. llm may be nil.
func NewSummarizer(llm provider.LLMProvider, model string) *Summarizer {
	return &Summarizer{llm: llm, model: model}
}

// Summarize returns the summary and whether it is extractive.
func (s *Summarizer) Summarize(ctx context.Context, title string, chunks []Chunk) (string, bool) {
	if s == nil || s.llm == nil {
		return ExtractiveSummary(chunks), true
	}

	start := time.Now()
	prompt := fmt.Sprintf("Summarize the document %q in one or two paragraphs. "+
		"Keep figures, names and dates exact. Do not add information that is not in the text.\n\n%s",
		title, joinChunks(chunks, maxSummaryInputChars))

	resp, err := s.llm.Complete(ctx, &provider.CompletionRequest{
		Model: s.model,
		Messages: []provider.Message{
			{Role: "system", Content: "You summarize documents faithfully and concisely."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		applog.Warn("[RAG/Summary] LLM summary failed, using extractive summary", "title", title, "error", err)
		return ExtractiveSummary(chunks), true
	}

	applog.Info("[RAG/Summary] Summarized", "title", title, "chunks", len(chunks), "elapsed_ms", time.Since(start).Milliseconds())
	return strings.TrimSpace(resp.Content), false
}

// ExtractEntities asks the LLM for entities and relationships in text. Any
// failure yields an empty extraction.
func (s *Summarizer) ExtractEntities(ctx context.Context, text string) Extraction {
	empty := Extraction{Entities: []Entity{}, Relationships: []Relationship{}}
	if s == nil || s.llm == nil || strings.TrimSpace(text) == "" {
		return empty
	}

	prompt := "Extract the important entities (people, organizations, places, products, concepts) " +
		"and the relationships between them from the text below. Reply with JSON only, shaped as " +
		`{"entities":[{"name":"","type":"","description":""}],"relationships":[{"source":"","target":"","type":"","description":""}]}` +
		"\n\n" + clipRunes(text, maxEntityInputChars)

	resp, err := s.llm.Complete(ctx, &provider.CompletionRequest{
		Model: s.model,
		Messages: []provider.Message{
			{Role: "system", Content: "You extract structured knowledge graphs. Output JSON only."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   1500,
		JSONMode:    true,
	})
	if err != nil {
		applog.Warn("[RAG/Entities] Extraction call failed", "error", err)
		return empty
	}
	return ParseExtraction(resp.Content)
}

// ParseExtraction leniently decodes an extraction reply. Entries without a
// name, or relationships without both ends, are dropped.
func ParseExtraction(raw string) Extraction {
	out := Extraction{Entities: []Entity{}, Relationships: []Relationship{}}
	var parsed Extraction
	if err := ParseLenientJSON(raw, &parsed); err != nil {
		applog.Warn("[RAG/Entities] Unparseable extraction, ignoring", "error", err)
		return out
	}
	for _, e := range parsed.Entities {
		if e.Name = strings.TrimSpace(e.Name); e.Name != "" {
			out.Entities = append(out.Entities, e)
		}
	}
	for _, r := range parsed.Relationships {
		if strings.TrimSpace(r.Source) != "" && strings.TrimSpace(r.Target) != "" {
			out.Relationships = append(out.Relationships, r)
		}
	}
	return out
}

// ExtractiveSummary takes the leading sentence of each chunk.
func ExtractiveSummary(chunks []Chunk) string {
	var parts []string
	for _, c := range chunks {
		if len(parts) >= maxExtractiveSentences {
			break
		}
		content := c.Content
		if strings.HasPrefix(content, "[Continued from:") {
			if nl := strings.IndexByte(content, '\n'); nl >= 0 {
				content = content[nl+1:]
			}
		}
		if s := firstSentence(content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for i, c := range text {
		if isTerminator(c) && (i+1 == len(text) || text[i+1] == ' ') {
			return text[:i+1]
		}
	}
	return clipRunes(text, 200)
}

func joinChunks(chunks []Chunk, limit int) string {
	var sb strings.Builder
	for _, c := range chunks {
		if utf8.RuneCountInString(sb.String())+utf8.RuneCountInString(c.Content) > limit {
			break
		}
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}
	if sb.Len() == 0 && len(chunks) > 0 {
		return clipRunes(chunks[0].Content, limit)
	}
	return strings.TrimSpace(sb.String())
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
