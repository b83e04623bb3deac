// Package graph writes document structure to a knowledge graph through a
// serverless function reachable over HTTP.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainrag "docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
	"docrag/internal/platform/retry"
)

// Operations understood by the graph function.
const (
	OpCreateDocument      = "create_document_node"
	OpCreateChunks        = "create_chunk_nodes"
	OpCreateEntities      = "create_entity_nodes"
	OpCreateRelationships = "create_relationships"
)

// maxChunkPreview bounds the chunk text sent as a node property.
const maxChunkPreview = 500

// FunctionClient implements rag.GraphEnricher.
type FunctionClient struct {
	url        string
	apiKey     string
	batchSize  int
	policy     retry.Policy
	httpClient *http.Client
}

var _ domainrag.GraphEnricher = (*FunctionClient)(nil)

func NewFunctionClient(cfg domainrag.GraphConfig) *FunctionClient {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	return &FunctionClient{
		url:       strings.TrimSpace(cfg.FunctionURL),
		apiKey:    cfg.APIKey,
		batchSize: batch,
		policy: retry.Policy{
			Attempts:  attempts,
			Backoff:   time.Second,
			MaxDelay:  10 * time.Second,
			Retryable: retryable,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

type invokeRequest struct {
	Operation string `json:"operation"`
	Payload   any    `json:"payload"`
}

type invokeResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

type chunkNode struct {
	Index     int    `json:"index"`
	Content   string `json:"content"`
	PageStart int    `json:"page_start,omitempty"`
	PageEnd   int    `json:"page_end,omitempty"`
	Section   string `json:"section,omitempty"`
}

func (c *FunctionClient) CreateDocumentNode(ctx context.Context, doc domainrag.GraphDocument) error {
	_, err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.invoke(ctx, OpCreateDocument, doc)
	})
	if err != nil {
		return fmt.Errorf("create document node %s: %w", doc.DocumentID, err)
	}
	applog.Debug("[Graph] Document node created", "document", doc.DocumentID)
	return nil
}

func (c *FunctionClient) CreateChunkNodes(ctx context.Context, documentID string, chunks []domainrag.Chunk) error {
	nodes := make([]chunkNode, len(chunks))
	for i, ch := range chunks {
		nodes[i] = chunkNode{
			Index:     ch.Index,
			Content:   preview(ch.Content),
			PageStart: ch.PageStart,
			PageEnd:   ch.PageEnd,
			Section:   ch.Section,
		}
	}
	out := c.sendBatches(ctx, OpCreateChunks, documentID, "chunks", len(nodes), func(lo, hi int) any { return nodes[lo:hi] })
	return outcomeError(OpCreateChunks, out)
}

func (c *FunctionClient) CreateEntityNodes(ctx context.Context, documentID string, entities []domainrag.Entity) error {
	out := c.sendBatches(ctx, OpCreateEntities, documentID, "entities", len(entities), func(lo, hi int) any { return entities[lo:hi] })
	return outcomeError(OpCreateEntities, out)
}

func (c *FunctionClient) CreateRelationships(ctx context.Context, documentID string, rels []domainrag.Relationship) error {
	out := c.sendBatches(ctx, OpCreateRelationships, documentID, "relationships", len(rels), func(lo, hi int) any { return rels[lo:hi] })
	return outcomeError(OpCreateRelationships, out)
}

// sendBatches posts items in batches, retrying each batch under the policy.
func (c *FunctionClient) sendBatches(ctx context.Context, op, documentID, field string, total int, slice func(lo, hi int) any) retry.Outcome {
	out := retry.Batches(ctx, c.policy, total, c.batchSize, func(ctx context.Context, lo, hi int) error {
		return c.invoke(ctx, op, map[string]any{
			"document_id": documentID,
			field:         slice(lo, hi),
		})
	})
	applog.Info("[Graph] Batches sent",
		"operation", op,
		"document", documentID,
		"status", out.Status,
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"attempts", out.Attempts,
	)
	return out
}

func (c *FunctionClient) invoke(ctx context.Context, op string, payload any) error {
	body, err := json.Marshal(invokeRequest{Operation: op, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domainrag.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: graph function throttled", domainrag.ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: graph function status %d", domainrag.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("graph function status %d: %s", resp.StatusCode, string(respBody))
	}

	var r invokeResponse
	if len(respBody) > 0 && json.Unmarshal(respBody, &r) == nil && r.Success != nil && !*r.Success {
		return fmt.Errorf("graph function %s failed: %s", op, r.Error)
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, domainrag.ErrTransient) || errors.Is(err, domainrag.ErrRateLimited)
}

func outcomeError(op string, out retry.Outcome) error {
	if out.Status == retry.StatusSucceeded {
		return nil
	}
	return fmt.Errorf("%s %s: %d of %d items failed: %w", op, out.Status, out.Failed, out.Failed+out.Succeeded, out.Err)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= maxChunkPreview {
		return s
	}
	return string(r[:maxChunkPreview])
}
