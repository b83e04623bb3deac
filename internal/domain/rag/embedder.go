package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	applog "docrag/internal/platform/log"
)

// maxEmbedChars is the input budget; longer text is truncated before sending.
const maxEmbedChars = 8000

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// OpenAIEmbedderConfig configures OpenAIEmbedder.
type OpenAIEmbedderConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string // e.g. text-embedding-3-small
	Dims    int
	Timeout time.Duration
}

// NewOpenAIEmbedder creates an embedder with defaults for empty fields.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *OpenAIEmbedder) Dims() int     { return e.dims }
func (e *OpenAIEmbedder) Model() string { return e.model }

type embeddingRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions,omitempty"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed returns the embedding of text. HTTP 429 maps to ErrRateLimited,
// 5xx and network timeouts to ErrTransient.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	reqBody := embeddingRequest{
		Input:          TruncateForEmbedding(text),
		Model:          e.model,
		EncodingFormat: "float",
	}
	if strings.Contains(e.model, "embedding-3") {
		reqBody.Dimensions = e.dims
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: embedding request: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, truncate(string(respBody), 200))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: embedding API %d: %s", ErrTransient, resp.StatusCode, truncate(string(respBody), 200))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("embedding API error (%d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned no vector")
	}

	vec := embResp.Data[0].Embedding
	applog.Debug("[RAG/Embedder] Embedded",
		"chars", len(reqBody.Input),
		"dims", len(vec),
		"tokens", embResp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return vec, nil
}

// TruncateForEmbedding cuts text to the embedding input budget on a rune boundary.
func TruncateForEmbedding(text string) string {
	r := []rune(text)
	if len(r) <= maxEmbedChars {
		return text
	}
	return string(r[:maxEmbedChars])
}

// FallbackEmbedding derives a unit vector from text alone: the sum of rune
// codes seeds a sine series. Same text, same vector.
func FallbackEmbedding(text string, dims int) []float32 {
	if dims <= 0 {
		return nil
	}
	var seed float64
	for _, c := range text {
		seed += float64(c)
	}
	seed += float64(len(text))

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		v := math.Sin(seed*float64(i+1)*0.001 + float64(i)*0.1)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		vec[0], norm = 1, 1
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// CosineSimilarity is dot(a,b)/(|a||b|), 0 when either norm is zero or the
// lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
