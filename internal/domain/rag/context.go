package rag

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Metadata keys stored alongside every vector.
const (
	MetaContent          = "content"
	MetaPageStart        = "page_start"
	MetaPageEnd          = "page_end"
	MetaPagesApproximate = "pages_approximate"
	MetaChunkIndex       = "chunk_index"
	MetaTotalChunks      = "total_chunks"
	MetaDocumentID       = "document_id"
	MetaFilename         = "filename"
	MetaTimestamp        = "timestamp"
	MetaSection          = "section"
)

// PageReference renders "page N" or "pages N-M".
func PageReference(start, end int) string {
	if end <= start {
		return fmt.Sprintf("page %d", start)
	}
	return fmt.Sprintf("pages %d-%d", start, end)
}

// Citation renders "<doc> (<pageReference>)", or just the document when the
// hit has no page metadata.
func Citation(doc string, start, end int, ok bool) string {
	if !ok {
		return doc
	}
	return fmt.Sprintf("%s (%s)", doc, PageReference(start, end))
}

// BuildContext groups ranked hits by source document and renders citations
// and the context string handed to the LLM. Hit order is preserved in Chunks.
func BuildContext(hits []SearchHit) *ContextBundle {
	bundle := &ContextBundle{
		Chunks:             make([]SearchHit, len(hits)),
		Citations:          make([]string, 0, len(hits)),
		DocumentSummary:    []DocumentSummary{},
		TotalSimilarChunks: len(hits),
	}
	copy(bundle.Chunks, hits)

	type member struct {
		pos        int
		start, end int
		hasPages   bool
	}
	type group struct {
		doc     string
		members []member
		pages   map[int]bool
		total   float64
	}

	var order []*group
	groups := map[string]*group{}
	for i := range bundle.Chunks {
		h := &bundle.Chunks[i]
		doc := DocumentKey(*h)
		start, end, ok := HitPages(*h)
		h.Citation = Citation(doc, start, end, ok)
		bundle.Citations = append(bundle.Citations, h.Citation)
		bundle.Approximate = bundle.Approximate || h.Approximate

		g := groups[doc]
		if g == nil {
			g = &group{doc: doc, pages: map[int]bool{}}
			groups[doc] = g
			order = append(order, g)
		}
		g.members = append(g.members, member{pos: i, start: start, end: end, hasPages: ok})
		g.total += h.Similarity
		if ok {
			for p := start; p <= end; p++ {
				g.pages[p] = true
			}
		}
	}

	var blocks []string
	for _, g := range order {
		pages := make([]int, 0, len(g.pages))
		for p := range g.pages {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		bundle.DocumentSummary = append(bundle.DocumentSummary, DocumentSummary{
			DocumentID:     g.doc,
			RelevantChunks: len(g.members),
			RelevantPages:  pages,
			AverageScore:   g.total / float64(len(g.members)),
		})

		sort.SliceStable(g.members, func(i, j int) bool {
			a, b := g.members[i], g.members[j]
			if a.hasPages != b.hasPages {
				return a.hasPages
			}
			if a.hasPages && a.start != b.start {
				return a.start < b.start
			}
			return a.pos < b.pos
		})

		var sb strings.Builder
		if len(pages) > 0 {
			fmt.Fprintf(&sb, "=== %s (%s) ===", g.doc, PageReference(pages[0], pages[len(pages)-1]))
		} else {
			fmt.Fprintf(&sb, "=== %s ===", g.doc)
		}
		for _, m := range g.members {
			sb.WriteString("\n")
			if m.hasPages {
				fmt.Fprintf(&sb, "[%s] ", PageReference(m.start, m.end))
			}
			sb.WriteString(strings.TrimSpace(bundle.Chunks[m.pos].Content))
		}
		blocks = append(blocks, sb.String())
	}
	bundle.ContextString = strings.Join(blocks, "\n\n")
	return bundle
}

// DocumentKey identifies the source of a hit: document id, else filename,
// else the index it came from.
func DocumentKey(h SearchHit) string {
	for _, key := range []string{MetaDocumentID, MetaFilename} {
		if s, ok := h.Metadata[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return h.SourceIndex
}

// HitPages reads page_start/page_end from hit metadata.
func HitPages(h SearchHit) (int, int, bool) {
	start, ok := MetaInt(h.Metadata, MetaPageStart)
	if !ok || start <= 0 {
		return 0, 0, false
	}
	end, ok := MetaInt(h.Metadata, MetaPageEnd)
	if !ok || end < start {
		end = start
	}
	return start, end, true
}

// MetaInt reads an integer that may have been decoded as any JSON number form.
func MetaInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}
