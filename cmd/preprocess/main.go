// Command preprocess bulk-loads raw reports from a JSONL file through the
// full ingestion pipeline. It is the offline counterpart of the NATS
// worker: one report per line, processed with bounded concurrency, results
// stored in the similarity index (and optionally the report graph).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
	"github.com/PainSignalAI/painsignal-mvp/engine/graph"
	"github.com/PainSignalAI/painsignal-mvp/engine/ingest"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/engine/statement"
	"github.com/PainSignalAI/painsignal-mvp/pkg/fn"
	"github.com/PainSignalAI/painsignal-mvp/pkg/hashembed"
	"github.com/PainSignalAI/painsignal-mvp/pkg/natsutil"
	"github.com/PainSignalAI/painsignal-mvp/pkg/ollama"
)

func main() {
	_ = godotenv.Load()

	var (
		input        = flag.String("input", "", "JSONL file of raw reports (required)")
		workers      = flag.Int("workers", 4, "concurrent pipeline workers")
		ollamaURL    = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel   = flag.String("embed-model", envOr("EMBED_MODEL", ollama.DefaultEmbedModel), "embedding model")
		genModel     = flag.String("gen-model", envOr("GEN_MODEL", ollama.DefaultGenerateModel), "statement generation model")
		embedBackend = flag.String("embed-backend", envOr("EMBED_BACKEND", "ollama"), "embedder: ollama or hash")
		indexBackend = flag.String("index-backend", envOr("INDEX_BACKEND", "memory"), "index: qdrant or memory")
		snapshotPath = flag.String("snapshot", envOr("SNAPSHOT_PATH", "/tmp/painsignal/index.json"), "memory index snapshot path")
		qdrantAddr   = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection   = flag.String("collection", envOr("QDRANT_COLLECTION", "painsignal"), "Qdrant collection name")
		neo4jURL     = flag.String("neo4j", envOr("NEO4J_URL", ""), "Neo4j bolt URL, empty disables the graph")
		neo4jUser    = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass    = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		categoryFile = flag.String("categories", envOr("CATEGORY_CONFIG", ""), "category keyword config (YAML)")
		noAI         = flag.Bool("no-ai", false, "disable the AI statement generator")
		publish      = flag.Bool("publish", false, "publish reports to the ingest worker instead of processing locally")
		natsURL      = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL, used with -publish")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: preprocess -input reports.jsonl")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *publish {
		if err := publishReports(ctx, *natsURL, *input, logger); err != nil {
			logger.Error("publish failed", "error", err)
			os.Exit(1)
		}
		return
	}

	var embedder semantic.Embedder
	switch *embedBackend {
	case "hash":
		embedder = hashembed.New(ollama.EmbedDimension)
	default:
		embedder = ollama.NewEmbedClient(*ollamaURL, *embedModel, ollama.EmbedDimension)
	}

	var index semantic.Index
	var mem *semantic.MemoryIndex
	switch *indexBackend {
	case "qdrant":
		store, err := semantic.NewStore(*qdrantAddr, *collection, embedder.Dimension(), embedder.ModelVersion())
		if err != nil {
			logger.Error("qdrant connect failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.EnsureCollection(ctx); err != nil {
			logger.Error("qdrant collection failed", "error", err)
			os.Exit(1)
		}
		index = store
	default:
		mem = semantic.NewMemoryIndex(embedder.Dimension(), embedder.ModelVersion())
		if err := mem.Load(*snapshotPath); err != nil {
			logger.Warn("snapshot not loaded, starting empty", "path", *snapshotPath, "err", err)
		}
		index = mem
	}

	var graphWriter ingest.GraphWriter
	if *neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			logger.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		graphWriter = graph.New(driver)
	}

	classifier := classify.New()
	if *categoryFile != "" {
		var err error
		classifier, err = classify.NewFromConfig(*categoryFile)
		if err != nil {
			logger.Error("category config failed", "error", err)
			os.Exit(1)
		}
	}

	var backend statement.TextGenerator
	if !*noAI {
		backend = ollama.NewGenerateClient(*ollamaURL, *genModel)
	}

	pipeline := ingest.NewPipeline(ingest.Deps{
		Statements: statement.New(backend, statement.DefaultOptions(), logger),
		Classifier: classifier,
		Embedder:   embedder,
		Index:      index,
		Graph:      graphWriter,
		Logger:     logger,
	})

	reports, err := readReports(*input)
	if err != nil {
		logger.Error("read input failed", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded reports", "file", *input, "count", len(reports))

	start := time.Now()
	results := fn.ParMapResult(reports, *workers, func(r domain.RawReport) fn.Result[string] {
		return pipeline(ctx, r)
	})

	stored, failed := 0, 0
	var ok []domain.RawReport
	for i, res := range results {
		if res.IsErr() {
			_, err := res.Unwrap()
			failed++
			logger.Warn("report failed", "report_id", reports[i].ID, "error", err)
			continue
		}
		stored++
		ok = append(ok, reports[i])
	}
	logger.Info("preprocess done",
		"stored", stored, "failed", failed, "duration", time.Since(start))
	for source, group := range fn.GroupBy(ok, func(r domain.RawReport) string { return r.Source }) {
		logger.Info("source summary", "source", source, "stored", len(group))
	}

	if mem != nil {
		if err := mem.Save(*snapshotPath); err != nil {
			logger.Error("snapshot save failed", "path", *snapshotPath, "error", err)
			os.Exit(1)
		}
		logger.Info("snapshot saved", "path", *snapshotPath)
	}
}

// publishReports hands the reports to the ingest worker over NATS.
func publishReports(ctx context.Context, natsURL, input string, logger *slog.Logger) error {
	reports, err := readReports(input)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(natsURL, nats.Name("painsignal-preprocess"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	for _, r := range reports {
		if err := natsutil.Publish(ctx, nc, ingest.Subject, r); err != nil {
			return fmt.Errorf("publish %s: %w", r.ID, err)
		}
	}
	logger.Info("reports published", "count", len(reports), "subject", ingest.Subject)
	return nil
}

// readReports parses one raw report per line, skipping blank lines.
func readReports(path string) ([]domain.RawReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.RawReport
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r domain.RawReport
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
