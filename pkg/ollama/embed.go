// Package ollama provides Ollama-backed implementations of the engine's
// embedding and text-generation contracts over the local HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PainSignalAI/painsignal-mvp/pkg/resilience"
)

// DefaultEmbedModel is the pinned embedding model; 384 dimensions.
const DefaultEmbedModel = "all-minilm:l6-v2"

// EmbedDimension is the vector size produced by DefaultEmbedModel.
const EmbedDimension = 384

// EmbedClient implements semantic.Embedder using Ollama's HTTP API.
type EmbedClient struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
	limiter *resilience.Limiter
}

// NewEmbedClient creates an Ollama embedding client pinned to one model.
// Calls are rate limited to keep bulk ingestion from saturating the backend.
func NewEmbedClient(baseURL, model string, dims int) *EmbedClient {
	if model == "" {
		model = DefaultEmbedModel
	}
	if dims <= 0 {
		dims = EmbedDimension
	}
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{},
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 50, Burst: 10}),
	}
}

// Dimension returns the fixed vector size.
func (c *EmbedClient) Dimension() int { return c.dims }

// ModelVersion returns the pinned model identifier.
func (c *EmbedClient) ModelVersion() string { return c.model }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed maps text to a vector under the pinned model.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if len(result.Embedding) != c.dims {
		return nil, fmt.Errorf("ollama embed: model %s returned %d dims, want %d",
			c.model, len(result.Embedding), c.dims)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds each text independently; failure on any item fails the
// batch with its index.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vals, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}
