// Package opensearch implements rag.VectorIndexStore over the OpenSearch
// REST API with one knn_vector index per document.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainrag "docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
)

// Client is an OpenSearch HTTP client.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	patterns   []string // index patterns returned by ListIndices
}

var _ domainrag.VectorIndexStore = (*Client)(nil)

func NewClient(cfg *domainrag.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.OpenSearchInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for local clusters
	}

	// wildcards so a missing shared index does not 404 the whole listing
	patterns := []string{cfg.IndexPrefix + "-*"}
	for _, s := range cfg.SharedIndices {
		patterns = append(patterns, s+"*")
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.OpenSearchURL, "/"),
		username: cfg.OpenSearchUsername,
		password: cfg.OpenSearchPassword,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		patterns: patterns,
	}
}

// document is the _source of one vector record.
type document struct {
	Key      string         `json:"key"`
	Content  string         `json:"content,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateIndex creates a knn index with a cosinesimil vector field. An
// existing index is reported as created=false.
func (c *Client) CreateIndex(ctx context.Context, name string, dims int, metric string) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodHead, "/"+url.PathEscape(name), nil)
	if err != nil {
		return false, fmt.Errorf("check index existence: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return false, nil
	}

	space := "cosinesimil"
	if metric == "l2" {
		space = "l2"
	}
	mapping := map[string]any{
		"settings": map[string]any{
			"index.knn": true,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"key":     map[string]string{"type": "keyword"},
				"content": map[string]string{"type": "text"},
				"vector": map[string]any{
					"type":      "knn_vector",
					"dimension": dims,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": space,
						"engine":     "lucene",
					},
				},
				// kept in _source only
				"metadata": map[string]any{"type": "object", "enabled": false},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	resp, err = c.doRequest(ctx, http.MethodPut, "/"+url.PathEscape(name), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create index: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(respBody), "resource_already_exists_exception"):
		return false, nil
	default:
		return false, statusError("create index", resp.StatusCode, respBody)
	}
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Upsert indexes records by key. Items rejected by the cluster are returned
// as failed keys.
func (c *Client) Upsert(ctx context.Context, index string, records []domainrag.VectorRecord) (*domainrag.UpsertResult, error) {
	if len(records) == 0 {
		return &domainrag.UpsertResult{}, nil
	}

	var buf bytes.Buffer
	for _, r := range records {
		action := map[string]any{
			"index": map[string]any{"_index": index, "_id": r.Key},
		}
		actionLine, _ := json.Marshal(action)
		buf.Write(actionLine)
		buf.WriteByte('\n')

		content, _ := r.Metadata[domainrag.MetaContent].(string)
		docLine, err := json.Marshal(document{Key: r.Key, Content: content, Vector: r.Embedding, Metadata: r.Metadata})
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", r.Key, err)
		}
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	out, err := c.bulk(ctx, &buf)
	if err != nil {
		return nil, fmt.Errorf("bulk index: %w", err)
	}

	res := &domainrag.UpsertResult{}
	for _, item := range out.Items {
		for _, o := range item {
			if o.Status >= 300 {
				res.FailedKeys = append(res.FailedKeys, o.ID)
				applog.Debug("[RAG/OpenSearch] Bulk item rejected", "index", index, "id", o.ID, "status", o.Status, "error", string(o.Error))
				continue
			}
			res.Upserted++
		}
	}
	applog.Debug("[RAG/OpenSearch] Bulk indexed", "index", index, "upserted", res.Upserted, "failed", len(res.FailedKeys))
	return res, nil
}

// Query runs a knn query. Scores are lucene cosinesimil scores in [0, 1].
func (c *Client) Query(ctx context.Context, index string, vector []float32, topK int) ([]domainrag.SearchHit, error) {
	if topK <= 0 {
		topK = 5
	}
	query := map[string]any{
		"size":    topK,
		"_source": map[string]any{"excludes": []string{"vector"}},
		"query": map[string]any{
			"knn": map[string]any{
				"vector": map[string]any{
					"vector": vector,
					"k":      topK,
				},
			},
		},
	}

	body, _ := json.Marshal(query)
	resp, err := c.doRequest(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("search "+index, resp.StatusCode, respBody)
	}

	var osResp struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Score  float64  `json:"_score"`
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &osResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	hits := make([]domainrag.SearchHit, 0, len(osResp.Hits.Hits))
	for _, h := range osResp.Hits.Hits {
		hits = append(hits, domainrag.SearchHit{
			Key:       h.ID,
			Content:   h.Source.Content,
			Metadata:  h.Source.Metadata,
			Score:     h.Score,
			ScoreKind: domainrag.ScoreUnitCosine,
		})
	}
	return hits, nil
}

// ListIndices lists the per-document and shared indices.
func (c *Client) ListIndices(ctx context.Context) ([]string, error) {
	path := "/_cat/indices/" + strings.Join(c.patterns, ",") + "?format=json&h=index&expand_wildcards=open"
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list indices", resp.StatusCode, respBody)
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("parse indices: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Index != "" && !strings.HasPrefix(r.Index, ".") {
			names = append(names, r.Index)
		}
	}
	return names, nil
}

// DeleteRecords deletes records by key. Keys that are already gone are fine.
func (c *Client) DeleteRecords(ctx context.Context, index string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, k := range keys {
		line, _ := json.Marshal(map[string]any{"delete": map[string]any{"_index": index, "_id": k}})
		buf.Write(line)
		buf.WriteByte('\n')
	}

	out, err := c.bulk(ctx, &buf)
	if err != nil {
		return fmt.Errorf("bulk delete: %w", err)
	}
	var failed int
	for _, item := range out.Items {
		for _, o := range item {
			if o.Status >= 300 && o.Status != http.StatusNotFound {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("bulk delete: %d of %d deletes failed", failed, len(keys))
	}
	return nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("ping opensearch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensearch returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) bulk(ctx context.Context, body io.Reader) (*bulkResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/_bulk?refresh=wait_for", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("bulk", resp.StatusCode, respBody)
	}
	var out bulkResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse bulk response: %w", err)
	}
	return &out, nil
}

// statusError maps throttling and server errors to the retryable rag errors.
func statusError(op string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s failed (%d): %s", domainrag.ErrRateLimited, op, status, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s failed (%d): %s", domainrag.ErrNotFound, op, status, msg)
	case status >= 500:
		return fmt.Errorf("%w: %s failed (%d): %s", domainrag.ErrTransient, op, status, msg)
	default:
		return fmt.Errorf("%s failed (%d): %s", op, status, msg)
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(path, "/_bulk") {
		req.Header.Set("Content-Type", "application/x-ndjson")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domainrag.ErrTransient, err)
	}
	return resp, nil
}
