// Package ragtool exposes the retrieval pipeline as agent tools.
package ragtool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docrag/internal/domain/rag"
	"docrag/internal/tool"
)

// Pipeline is the part of rag.Pipeline the tools call.
type Pipeline interface {
	ProcessDocument(ctx context.Context, path string) (*rag.ProcessResult, error)
	QueryDocument(ctx context.Context, key, question string) (*rag.QueryResult, error)
	SummarizeDocument(ctx context.Context, key string) (*rag.SummaryResult, error)
	IngestDocument(ctx context.Context, in rag.IngestInput) (*rag.IngestResult, error)
	Search(ctx context.Context, question string) (*rag.QueryResult, error)
}

var _ Pipeline = (*rag.Pipeline)(nil)

// RegisterAll adds every retrieval tool to reg.
func RegisterAll(reg *tool.Registry, p Pipeline) {
	reg.Register(&DocumentQueryTool{p: p})
	reg.Register(&KnowledgeSearchTool{p: p})
	reg.Register(&SummarizeTool{p: p})
	reg.Register(&ProcessTool{p: p})
	reg.Register(&IngestTool{p: p})
}

// ── document_query ─────────────────────────────────────────

type DocumentQueryTool struct{ p Pipeline }

func (t *DocumentQueryTool) Name() string { return "document_query" }

func (t *DocumentQueryTool) Description() string {
	return "Answer a question from one uploaded or processed document. Returns the most relevant passages with page citations. The document's working state is discarded afterwards."
}

func (t *DocumentQueryTool) Parameters() any {
	return schema(map[string]any{
		"question": prop("string", "The question to answer from the document"),
		"document": prop("string", "Path or key of the processed document"),
	}, "question", "document")
}

func (t *DocumentQueryTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Question string `json:"question"`
		Document string `json:"document"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	if err := need("question", &args.Question); err != nil {
		return "", err
	}
	if err := need("document", &args.Document); err != nil {
		return "", err
	}
	res, err := t.p.QueryDocument(ctx, args.Document, args.Question)
	return encode(res, err)
}

// ── knowledge_search ───────────────────────────────────────

type KnowledgeSearchTool struct{ p Pipeline }

func (t *KnowledgeSearchTool) Name() string { return "knowledge_search" }

func (t *KnowledgeSearchTool) Description() string {
	return "Search every indexed document for passages relevant to a question. Returns ranked passages, per-document summaries and citations."
}

func (t *KnowledgeSearchTool) Parameters() any {
	return schema(map[string]any{
		"question": prop("string", "The search question"),
	}, "question")
}

func (t *KnowledgeSearchTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Question string `json:"question"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	if err := need("question", &args.Question); err != nil {
		return "", err
	}
	res, err := t.p.Search(ctx, args.Question)
	return encode(res, err)
}

// ── summarize_document ─────────────────────────────────────

type SummarizeTool struct{ p Pipeline }

func (t *SummarizeTool) Name() string { return "summarize_document" }

func (t *SummarizeTool) Description() string {
	return "Summarize one processed document. The document's working state is discarded afterwards."
}

func (t *SummarizeTool) Parameters() any {
	return schema(map[string]any{
		"document": prop("string", "Path or key of the processed document"),
	}, "document")
}

func (t *SummarizeTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Document string `json:"document"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	if err := need("document", &args.Document); err != nil {
		return "", err
	}
	res, err := t.p.SummarizeDocument(ctx, args.Document)
	return encode(res, err)
}

// ── process_document ───────────────────────────────────────

type ProcessTool struct{ p Pipeline }

func (t *ProcessTool) Name() string { return "process_document" }

func (t *ProcessTool) Description() string {
	return "Parse, chunk and embed a local document so it can be queried or summarized once."
}

func (t *ProcessTool) Parameters() any {
	return schema(map[string]any{
		"path": prop("string", "Local path of the document"),
	}, "path")
}

func (t *ProcessTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	if err := need("path", &args.Path); err != nil {
		return "", err
	}
	res, err := t.p.ProcessDocument(ctx, args.Path)
	return encode(res, err)
}

// ── ingest_document ────────────────────────────────────────

type IngestTool struct{ p Pipeline }

func (t *IngestTool) Name() string { return "ingest_document" }

func (t *IngestTool) Description() string {
	return "Index a local document permanently so knowledge_search can find it."
}

func (t *IngestTool) Parameters() any {
	return schema(map[string]any{
		"path":        prop("string", "Local path of the document"),
		"document_id": prop("string", "Stable document id; defaults to the file name"),
	}, "path")
}

func (t *IngestTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Path       string `json:"path"`
		DocumentID string `json:"document_id"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	if err := need("path", &args.Path); err != nil {
		return "", err
	}
	res, err := t.p.IngestDocument(ctx, rag.IngestInput{DocumentID: args.DocumentID, Path: args.Path})
	return encode(res, err)
}

// ── helpers ────────────────────────────────────────────────

func schema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func decode(arguments string, v any) error {
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	return nil
}

// need trims a required string argument and rejects it when empty.
func need(name string, v *string) error {
	*v = strings.TrimSpace(*v)
	if *v == "" {
		return fmt.Errorf("%w: %s is required", tool.ErrInvalidArguments, name)
	}
	return nil
}

// encode returns the result JSON. Failures the result describes are part of
// the JSON; err only surfaces when there is no result to return.
func encode[T any](res *T, err error) (string, error) {
	if res == nil {
		if err == nil {
			err = fmt.Errorf("no result")
		}
		return "", err
	}
	data, merr := json.Marshal(res)
	if merr != nil {
		return "", fmt.Errorf("encode result: %w", merr)
	}
	return string(data), nil
}
