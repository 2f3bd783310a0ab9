package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PainSignalAI/painsignal-mvp/engine/statement"
)

func embedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model == "" || req.Prompt == "" {
			t.Errorf("incomplete request: %+v", req)
		}
		vec := make([]float64, dims)
		for i := range vec {
			vec[i] = float64(i) * 0.1
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: vec})
	}))
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model", 4)
	vec, err := c.Embed(context.Background(), "python is slow")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("len = %d, want 4", len(vec))
	}
	if vec[1] != 0.1 {
		t.Fatalf("vec[1] = %v", vec[1])
	}
	if c.ModelVersion() != "test-model" || c.Dimension() != 4 {
		t.Fatalf("client identity wrong: %s/%d", c.ModelVersion(), c.Dimension())
	}
}

func TestEmbedStopsAtRateLimiterOnCanceledContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: make([]float64, 4)})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model", 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Embed(ctx, "text"); err == nil {
		t.Fatal("canceled context accepted")
	}
	if calls != 0 {
		t.Fatalf("request sent despite canceled context: %d calls", calls)
	}
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	srv := embedServer(t, 3)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model", 4)
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("dimension mismatch accepted")
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "missing", 4)
	if _, err := c.Embed(context.Background(), "text"); err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("err = %v", err)
	}
}

func TestEmbedBatch(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "test-model", 4)
	out, err := c.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 2 || len(out[0]) != 4 {
		t.Fatalf("batch shape wrong: %v", out)
	}
}

func TestNewEmbedClientDefaults(t *testing.T) {
	c := NewEmbedClient("http://localhost:11434", "", 0)
	if c.ModelVersion() != DefaultEmbedModel {
		t.Fatalf("model = %q", c.ModelVersion())
	}
	if c.Dimension() != EmbedDimension {
		t.Fatalf("dims = %d", c.Dimension())
	}
}

func TestGenerate(t *testing.T) {
	var got ollamaGenerateReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaGenerateResp{Response: "Users struggle with slow python scripts."})
	}))
	defer srv.Close()

	c := NewGenerateClient(srv.URL, "gen-model")
	out, err := c.Generate(context.Background(), "prompt text", statement.GenOptions{MaxTokens: 60, Temperature: 0.1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Users struggle with slow python scripts." {
		t.Fatalf("out = %q", out)
	}
	if got.Stream {
		t.Error("streaming must be disabled")
	}
	if got.Model != "gen-model" || got.Prompt != "prompt text" {
		t.Errorf("request wrong: %+v", got)
	}
	if got.Options["num_predict"] != float64(60) {
		t.Errorf("num_predict = %v", got.Options["num_predict"])
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewGenerateClient(srv.URL, "")
	if _, err := c.Generate(context.Background(), "p", statement.GenOptions{}); err == nil {
		t.Fatal("server error swallowed")
	}
}
