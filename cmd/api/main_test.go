package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/query"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/pkg/hashembed"
	"github.com/PainSignalAI/painsignal-mvp/pkg/metrics"
)

func testServer(t *testing.T, statements []string) *server {
	t.Helper()
	embed := hashembed.New(64)
	idx := semantic.NewMemoryIndex(embed.Dimension(), embed.ModelVersion())
	ctx := context.Background()

	for i, stmt := range statements {
		vec, err := embed.Embed(ctx, stmt)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		err = idx.Upsert(ctx, []semantic.Entry{{
			ReportID:     fmt.Sprintf("r%d", i),
			Values:       vec,
			ModelVersion: embed.ModelVersion(),
			Metadata: semantic.Metadata{
				Statement: stmt,
				Category:  "software",
				Source:    "forum",
				Method:    "rule",
				Technical: true,
				Timestamp: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
			},
		}})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	met := metrics.New()
	return &server{
		engine:     query.New(embed, idx, query.DefaultOptions(), logger),
		index:      idx,
		classifier: classify.New(),
		logger:     logger,
		started:    time.Now(),
		queries:    met.Counter("queries_total", ""),
	}
}

func defaultStatements() []string {
	return []string{
		"Users experience slow performance with python that impacts productivity.",
		"Users encounter errors in docker that prevent successful task completion.",
		"Users choosing between react and angular lack clear guidance on the right fit.",
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t, nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestHandleStatus(t *testing.T) {
	s := testServer(t, defaultStatements())
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["reports"] != float64(3) {
		t.Fatalf("reports = %v", body["reports"])
	}
	if body["model_version"] != hashembed.Version {
		t.Fatalf("model_version = %v", body["model_version"])
	}
}

func TestHandleSearch(t *testing.T) {
	s := testServer(t, defaultStatements())
	rec := httptest.NewRecorder()
	s.handleSearch(rec, httptest.NewRequest("GET", "/api/search?q=python+performance", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[query.Response](t, rec)
	if len(resp.Hits) == 0 {
		t.Fatal("no hits")
	}
	if resp.Hits[0].ReportID != "r0" {
		t.Fatalf("top hit = %s, want r0", resp.Hits[0].ReportID)
	}
	if s.queries.Value() != 1 {
		t.Fatalf("query counter = %d", s.queries.Value())
	}
}

func TestHandleSearchPost(t *testing.T) {
	s := testServer(t, defaultStatements())
	body := strings.NewReader(`{"query": "docker errors", "limit": 2}`)
	rec := httptest.NewRecorder()
	s.handleSearchPost(rec, httptest.NewRequest("POST", "/api/search", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[query.Response](t, rec)
	if resp.Limit != 2 {
		t.Fatalf("limit = %d", resp.Limit)
	}
	if len(resp.Hits) == 0 || resp.Hits[0].ReportID != "r1" {
		t.Fatalf("hits = %+v", resp.Hits)
	}
}

func TestHandleSearchPostBadBody(t *testing.T) {
	s := testServer(t, nil)
	rec := httptest.NewRecorder()
	s.handleSearchPost(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader("{broken")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleSearchValidation(t *testing.T) {
	s := testServer(t, defaultStatements())
	rec := httptest.NewRecorder()
	s.handleSearch(rec, httptest.NewRequest("GET", "/api/search?q=python&limit=5000", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized limit", rec.Code)
	}
}

func TestHandleProblemsIgnoresQuery(t *testing.T) {
	s := testServer(t, defaultStatements())
	rec := httptest.NewRecorder()
	s.handleProblems(rec, httptest.NewRequest("GET", "/api/problems?q=python", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[query.Response](t, rec)
	if resp.Total != 3 {
		t.Fatalf("Total = %d, problems must browse the whole corpus", resp.Total)
	}
	// Recency order, not similarity.
	if resp.Hits[0].ReportID != "r2" {
		t.Fatalf("top = %s, want most recent r2", resp.Hits[0].ReportID)
	}
}

func TestHandleCategories(t *testing.T) {
	s := testServer(t, nil)
	rec := httptest.NewRecorder()
	s.handleCategories(rec, httptest.NewRequest("GET", "/api/categories", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string][]string](t, rec)
	cats := body["categories"]
	if len(cats) == 0 {
		t.Fatal("no categories")
	}
	found := false
	for _, c := range cats {
		if c == "software" {
			found = true
		}
	}
	if !found {
		t.Fatalf("categories = %v", cats)
	}
}

func TestHandleSimilar(t *testing.T) {
	s := testServer(t, []string{
		"Users experience slow performance with python dataframes.",
		"Users experience slow performance with python scripts.",
		"Users encounter errors in docker containers.",
	})
	req := httptest.NewRequest("GET", "/api/similar/r0?limit=2", nil)
	req.SetPathValue("id", "r0")
	rec := httptest.NewRecorder()
	s.handleSimilar(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		ReportID string           `json:"report_id"`
		Similar  []map[string]any `json:"similar"`
	}](t, rec)
	if body.ReportID != "r0" {
		t.Fatalf("report_id = %q", body.ReportID)
	}
	for _, h := range body.Similar {
		if h["report_id"] == "r0" {
			t.Fatal("seed report listed as its own neighbor")
		}
	}
}

func TestHandleSimilarUnknownID(t *testing.T) {
	s := testServer(t, defaultStatements())
	req := httptest.NewRequest("GET", "/api/similar/ghost", nil)
	req.SetPathValue("id", "ghost")
	rec := httptest.NewRecorder()
	s.handleSimilar(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRequestFromParams(t *testing.T) {
	r := httptest.NewRequest("GET",
		"/api/search?q=python&category=software&source=forum&method=rule&technical=true&limit=5&offset=10", nil)
	req := requestFromParams(r)
	want := query.Request{
		Query: "python", Category: "software", Source: "forum",
		Method: "rule", TechnicalOnly: true, Limit: 5, Offset: 10,
	}
	if req != want {
		t.Fatalf("got %+v, want %+v", req, want)
	}
}

func TestLoadConfigMinScore(t *testing.T) {
	t.Setenv("MIN_SCORE", "")
	cfg := loadConfig()
	if cfg.MinScore != 0 {
		t.Fatalf("default MinScore = %v, want 0", cfg.MinScore)
	}
	t.Setenv("MIN_SCORE", "0.3")
	cfg = loadConfig()
	if cfg.MinScore != 0.3 {
		t.Fatalf("MinScore = %v, want 0.3", cfg.MinScore)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("PAINSIGNAL_TEST_KEY", "set")
	if envOr("PAINSIGNAL_TEST_KEY", "fallback") != "set" {
		t.Fatal("env value ignored")
	}
	if envOr("PAINSIGNAL_TEST_MISSING", "fallback") != "fallback" {
		t.Fatal("fallback ignored")
	}
}
