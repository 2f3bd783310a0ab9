package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PainSignalAI/painsignal-mvp/engine/statement"
)

// DefaultGenerateModel is the text-generation model used for statement
// synthesis.
const DefaultGenerateModel = "llama3.2:3b"

// GenerateClient implements statement.TextGenerator using Ollama's
// /api/generate endpoint.
type GenerateClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewGenerateClient creates an Ollama generation client.
func NewGenerateClient(baseURL, model string) *GenerateClient {
	if model == "" {
		model = DefaultGenerateModel
	}
	return &GenerateClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

type ollamaGenerateReq struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResp struct {
	Response string `json:"response"`
}

// Generate produces completion text for a prompt. The caller's context
// carries the synthesis timeout; an expired context fails the call rather
// than stalling it.
func (c *GenerateClient) Generate(ctx context.Context, prompt string, opts statement.GenOptions) (string, error) {
	options := map[string]any{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	options["temperature"] = opts.Temperature

	body, _ := json.Marshal(ollamaGenerateReq{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("ollama generate: status %d", resp.StatusCode)
	}

	var result ollamaGenerateResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	return result.Response, nil
}
