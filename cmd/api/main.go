// Package main implements the PainSignal API server: ranked similarity
// search and browsing over the indexed report corpus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
	"github.com/PainSignalAI/painsignal-mvp/engine/graph"
	"github.com/PainSignalAI/painsignal-mvp/engine/query"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/pkg/hashembed"
	"github.com/PainSignalAI/painsignal-mvp/pkg/metrics"
	"github.com/PainSignalAI/painsignal-mvp/pkg/mid"
	"github.com/PainSignalAI/painsignal-mvp/pkg/ollama"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	MetricsPort  int
	EmbedBackend string // "ollama" or "hash"
	OllamaURL    string
	EmbedModel   string
	IndexBackend string // "qdrant" or "memory"
	SnapshotPath string
	QdrantURL    string
	Collection   string
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	CategoryFile string
	CORSOrigin   string
	// MinScore filters out hits below this cosine similarity. Zero keeps
	// everything; the useful scale depends on the embedding backend.
	MinScore float64
}

func loadConfig() Config {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	metricsPort, _ := strconv.Atoi(envOr("METRICS_PORT", "9090"))
	minScore, _ := strconv.ParseFloat(envOr("MIN_SCORE", "0"), 64)
	return Config{
		Port:         envOr("PORT", "8080"),
		MetricsPort:  metricsPort,
		EmbedBackend: envOr("EMBED_BACKEND", "ollama"),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", ollama.DefaultEmbedModel),
		IndexBackend: envOr("INDEX_BACKEND", "qdrant"),
		SnapshotPath: envOr("SNAPSHOT_PATH", "/tmp/painsignal/index.json"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "painsignal"),
		Neo4jURL:     envOr("NEO4J_URL", ""),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		CategoryFile: envOr("CATEGORY_CONFIG", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		MinScore:     minScore,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	met.CollectRuntime("painsignal_api", 15*time.Second)
	met.ServeAsync(cfg.MetricsPort)

	// --- Embedder ---
	var embedder semantic.Embedder
	switch cfg.EmbedBackend {
	case "hash":
		embedder = hashembed.New(ollama.EmbedDimension)
	default:
		embedder = ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel, ollama.EmbedDimension)
	}

	// --- Similarity index ---
	var index semantic.Index
	switch cfg.IndexBackend {
	case "memory":
		mem := semantic.NewMemoryIndex(embedder.Dimension(), embedder.ModelVersion())
		if err := mem.Load(cfg.SnapshotPath); err != nil {
			logger.Warn("snapshot not loaded, starting empty", "path", cfg.SnapshotPath, "err", err)
		}
		index = mem
	default:
		store, err := semantic.NewStore(cfg.QdrantURL, cfg.Collection, embedder.Dimension(), embedder.ModelVersion())
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer store.Close()
		if err := store.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant collection: %w", err)
		}
		index = store
	}

	// --- Report graph (optional) ---
	var graphStore *graph.Store
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		graphStore = graph.New(driver)
	}

	// --- Classifier (category listing) ---
	classifier := classify.New()
	if cfg.CategoryFile != "" {
		var err error
		classifier, err = classify.NewFromConfig(cfg.CategoryFile)
		if err != nil {
			return fmt.Errorf("category config: %w", err)
		}
	}

	queryOpts := query.DefaultOptions()
	queryOpts.MinScore = float32(cfg.MinScore)
	engine := query.New(embedder, index, queryOpts, logger)
	api := &server{
		engine:     engine,
		index:      index,
		graph:      graphStore,
		classifier: classifier,
		logger:     logger,
		started:    time.Now(),
		queries:    met.Counter("painsignal_api_queries_total", "Search queries served"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("GET /api/status", api.handleStatus)
	mux.HandleFunc("GET /api/problems", api.handleProblems)
	mux.HandleFunc("GET /api/search", api.handleSearch)
	mux.HandleFunc("POST /api/search", api.handleSearchPost)
	mux.HandleFunc("GET /api/categories", api.handleCategories)
	mux.HandleFunc("GET /api/similar/{id}", api.handleSimilar)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(1<<20),
		mid.OTel("painsignal-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port,
			"embed_backend", cfg.EmbedBackend, "index_backend", cfg.IndexBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// server bundles the handler dependencies.
type server struct {
	engine     *query.Engine
	index      semantic.Index
	graph      *graph.Store
	classifier *classify.Classifier
	logger     *slog.Logger
	started    time.Time
	queries    *metrics.Counter
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.index.Count(r.Context(), nil)
	if err != nil {
		s.logger.Error("status: index count failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}

	status := map[string]any{
		"status":        "ok",
		"reports":       count,
		"model_version": s.index.ModelVersion(),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	}
	if s.graph != nil {
		if nodes, err := s.graph.NodeCounts(r.Context()); err == nil {
			status["graph_nodes"] = nodes
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleProblems lists the freshest indexed problems, optionally filtered.
func (s *server) handleProblems(w http.ResponseWriter, r *http.Request) {
	req := requestFromParams(r)
	req.Query = "" // browse by recency regardless of any q param

	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.queries.Inc()
	resp, err := s.engine.Search(r.Context(), requestFromParams(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.queries.Inc()
	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCategories(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"categories": s.classifier.Categories()}
	if s.graph != nil {
		if counts, err := s.graph.CategoryCounts(r.Context()); err == nil {
			out["counts"] = counts
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	k, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if k <= 0 {
		k = 10
	}

	hits, err := s.engine.Similar(r.Context(), id, k)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	out := map[string]any{"report_id": id, "similar": hits}
	if s.graph != nil {
		if related, err := s.graph.RelatedReports(r.Context(), id, k); err == nil && len(related) > 0 {
			out["related"] = related
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrLimitOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, semantic.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "similarity index unavailable")
	default:
		s.logger.Error("query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requestFromParams builds a search request from URL query parameters.
func requestFromParams(r *http.Request) query.Request {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return query.Request{
		Query:         q.Get("q"),
		Category:      q.Get("category"),
		Source:        q.Get("source"),
		Method:        q.Get("method"),
		TechnicalOnly: q.Get("technical") == "true",
		Limit:         limit,
		Offset:        offset,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
