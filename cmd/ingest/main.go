// Command ingest runs the report ingestion worker: it consumes raw reports
// from NATS, normalizes and classifies them, synthesizes canonical problem
// statements, embeds them, and stores the result in the similarity index
// and the report graph.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/graph"
	"github.com/PainSignalAI/painsignal-mvp/engine/ingest"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/engine/statement"
	"github.com/PainSignalAI/painsignal-mvp/pkg/hashembed"
	"github.com/PainSignalAI/painsignal-mvp/pkg/metrics"
	"github.com/PainSignalAI/painsignal-mvp/pkg/natsutil"
	"github.com/PainSignalAI/painsignal-mvp/pkg/ollama"
	"github.com/PainSignalAI/painsignal-mvp/pkg/resilience"
)

var met = metrics.New()

func main() {
	_ = godotenv.Load()

	var (
		natsURL      = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		ollamaURL    = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel   = flag.String("embed-model", envOr("EMBED_MODEL", ollama.DefaultEmbedModel), "embedding model")
		genModel     = flag.String("gen-model", envOr("GEN_MODEL", ollama.DefaultGenerateModel), "statement generation model")
		embedBackend = flag.String("embed-backend", envOr("EMBED_BACKEND", "ollama"), "embedder: ollama or hash")
		indexBackend = flag.String("index-backend", envOr("INDEX_BACKEND", "qdrant"), "index: qdrant or memory")
		snapshotPath = flag.String("snapshot", envOr("SNAPSHOT_PATH", "/tmp/painsignal/index.json"), "memory index snapshot path")
		qdrantAddr   = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection   = flag.String("collection", envOr("QDRANT_COLLECTION", "painsignal"), "Qdrant collection name")
		neo4jURL     = flag.String("neo4j", envOr("NEO4J_URL", ""), "Neo4j bolt URL, empty disables the graph")
		neo4jUser    = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass    = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		categoryFile = flag.String("categories", envOr("CATEGORY_CONFIG", ""), "category keyword config (YAML)")
		noAI         = flag.Bool("no-ai", false, "disable the AI statement generator")
		metricsPort  = flag.Int("metrics-port", 9091, "metrics HTTP port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.CollectRuntime("painsignal_ingest", 15*time.Second)
	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedder ---
	var embedder semantic.Embedder
	switch *embedBackend {
	case "hash":
		embedder = hashembed.New(ollama.EmbedDimension)
	default:
		embedder = ollama.NewEmbedClient(*ollamaURL, *embedModel, ollama.EmbedDimension)
	}

	// --- Similarity index ---
	var index semantic.Index
	var mem *semantic.MemoryIndex
	switch *indexBackend {
	case "memory":
		mem = semantic.NewMemoryIndex(embedder.Dimension(), embedder.ModelVersion())
		if err := mem.Load(*snapshotPath); err != nil {
			logger.Warn("snapshot not loaded, starting empty", "path", *snapshotPath, "err", err)
		}
		index = mem
	default:
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
		logger.Info("connected to Qdrant", "collection", *collection)
	}

	// --- Report graph (optional) ---
	var graphWriter ingest.GraphWriter
	if *neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
		if err != nil {
			logger.Error("neo4j connect failed", "error", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			logger.Error("neo4j verify failed", "error", err)
			os.Exit(1)
		}
		graphWriter = graph.New(driver)
		logger.Info("connected to Neo4j")
	}

	// --- Classifier ---
	classifier := classify.New()
	if *categoryFile != "" {
		var err error
		classifier, err = classify.NewFromConfig(*categoryFile)
		if err != nil {
			logger.Error("category config failed", "error", err)
			os.Exit(1)
		}
	}

	// --- Statement synthesizer ---
	var backend statement.TextGenerator
	if !*noAI {
		// The model endpoint flaps under load; a breaker turns repeated
		// failures into fast rule-based fallbacks instead of timeouts.
		backend = &guardedGenerator{
			inner:   ollama.NewGenerateClient(*ollamaURL, *genModel),
			breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		}
	}
	synthesizer := statement.New(backend, statement.DefaultOptions(), logger)

	// --- NATS consumer ---
	nc, err := nats.Connect(*natsURL, nats.Name("painsignal-ingest"))
	if err != nil {
		logger.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, ingest.Deps{
		Statements: synthesizer,
		Classifier: classifier,
		Embedder:   embedder,
		Index:      index,
		Graph:      graphWriter,
		Exists: func(ctx context.Context, reportID string) (bool, error) {
			_, ok, err := index.Get(ctx, reportID)
			return ok, err
		},
		Metrics: met,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	// Dead-lettered reports are logged so operators can replay them once
	// the underlying failure is fixed.
	dlqSub, err := natsutil.Subscribe(nc, ingest.DLQSubject, func(_ context.Context, dl ingest.DeadLetter) {
		logger.Error("report dead lettered",
			"report_id", dl.Report.ID, "source", dl.Report.Source,
			"retries", dl.Retries, "error", dl.Error)
	})
	if err != nil {
		logger.Error("dlq subscribe failed", "error", err)
		os.Exit(1)
	}
	defer dlqSub.Unsubscribe()

	logger.Info("ingest worker running", "subject", ingest.Subject,
		"embed_backend", *embedBackend, "index_backend", *indexBackend)

	<-ctx.Done()
	logger.Info("shutting down")

	if mem != nil {
		if err := mem.Save(*snapshotPath); err != nil {
			logger.Error("snapshot save failed", "path", *snapshotPath, "error", err)
		} else {
			logger.Info("snapshot saved", "path", *snapshotPath)
		}
	}
}

// guardedGenerator wraps the model client in a circuit breaker.
type guardedGenerator struct {
	inner   statement.TextGenerator
	breaker *resilience.Breaker
}

func (g *guardedGenerator) Generate(ctx context.Context, prompt string, opts statement.GenOptions) (string, error) {
	var out string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = g.inner.Generate(ctx, prompt, opts)
		return callErr
	})
	return out, err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
