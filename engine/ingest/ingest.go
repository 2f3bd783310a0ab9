// Package ingest is the write side of the pipeline. It takes a raw report
// through validation, text cleaning, statement synthesis, classification,
// and embedding, then stores the result in the similarity index and the
// report graph. Stages are composed with pkg/fn so each step short-circuits
// on error and carries its own trace span.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
	"github.com/PainSignalAI/painsignal-mvp/engine/graph"
	"github.com/PainSignalAI/painsignal-mvp/engine/normalize"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/engine/statement"
	"github.com/PainSignalAI/painsignal-mvp/pkg/fn"
	"github.com/PainSignalAI/painsignal-mvp/pkg/metrics"
)

const (
	// Subject is the NATS subject for incoming raw reports.
	Subject = "signals.reports"
	// DLQSubject is the dead letter queue for reports that keep failing.
	DLQSubject = "signals.reports.dlq"
	// MaxRetries before a report is sent to the DLQ.
	MaxRetries = 3
)

// GraphWriter is the graph side of storage. Graph writes are best-effort;
// the similarity index remains the source of truth.
type GraphWriter interface {
	SaveReport(ctx context.Context, r graph.Report, terms []string) error
}

// Deps holds the external dependencies of the ingestion pipeline.
type Deps struct {
	Statements *statement.Synthesizer
	Classifier *classify.Classifier
	Embedder   semantic.Embedder
	Index      semantic.Index
	Graph      GraphWriter // optional
	// Exists reports whether a report id is already indexed, for dedup.
	Exists  func(ctx context.Context, reportID string) (bool, error)
	Metrics *metrics.Registry // optional
	Logger  *slog.Logger
}

// Validate rejects reports that fail domain validation.
var Validate fn.Stage[domain.RawReport, domain.RawReport] = func(_ context.Context, r domain.RawReport) fn.Result[domain.RawReport] {
	if err := domain.ValidateRawReport(r); err != nil {
		return fn.Err[domain.RawReport](err)
	}
	return fn.Ok(r)
}

// Clean normalizes the report text.
var Clean fn.Stage[domain.RawReport, CleanedReport] = func(_ context.Context, r domain.RawReport) fn.Result[CleanedReport] {
	return fn.Ok(CleanedReport{RawReport: r, Cleaned: normalize.Clean(r.Text())})
}

// NewSynthesize creates the statement synthesis stage. Synthesis never
// fails; the fallback chain bottoms out in a placeholder statement.
func NewSynthesize(s *statement.Synthesizer) fn.Stage[CleanedReport, SynthesizedReport] {
	return func(ctx context.Context, r CleanedReport) fn.Result[SynthesizedReport] {
		stmt := s.Synthesize(ctx, r.ID, r.Cleaned)
		return fn.Ok(SynthesizedReport{CleanedReport: r, Statement: stmt})
	}
}

// NewClassify creates the classification stage. Classification runs over
// the cleaned report text, not the synthesized statement, so the category
// reflects what the user actually wrote.
func NewClassify(c *classify.Classifier) fn.Stage[SynthesizedReport, ClassifiedReport] {
	return func(_ context.Context, r SynthesizedReport) fn.Result[ClassifiedReport] {
		return fn.Ok(ClassifiedReport{SynthesizedReport: r, Classification: c.Classify(r.Cleaned)})
	}
}

// NewEmbed creates the embedding stage over the canonical statement.
func NewEmbed(e semantic.Embedder) fn.Stage[ClassifiedReport, EmbeddedReport] {
	return func(ctx context.Context, r ClassifiedReport) fn.Result[EmbeddedReport] {
		vec, err := e.Embed(ctx, r.Statement.Text)
		if err != nil {
			return fn.Err[EmbeddedReport](fmt.Errorf("embed statement: %w", err))
		}
		return fn.Ok(EmbeddedReport{ClassifiedReport: r, Vector: vec})
	}
}

// NewStore creates the storage stage: upsert into the similarity index,
// then a best-effort write into the report graph. Returns the report id.
func NewStore(idx semantic.Index, gw GraphWriter, cls *classify.Classifier, log *slog.Logger) fn.Stage[EmbeddedReport, string] {
	return func(ctx context.Context, r EmbeddedReport) fn.Result[string] {
		topConf := 0.0
		if len(r.Classification.Scores) > 0 {
			topConf = r.Classification.Scores[0].Confidence
		}
		entry := semantic.Entry{
			ReportID:     r.ID,
			Values:       r.Vector,
			ModelVersion: idx.ModelVersion(),
			Metadata: semantic.Metadata{
				Statement: r.Statement.Text,
				Method:    string(r.Statement.Method),
				Category:  r.Classification.Category,
				Source:    r.Source,
				Technical: r.Classification.Technical,
				Timestamp: r.Timestamp,
				Title:     r.Title,
				Extra: map[string]string{
					"confidence": strconv.FormatFloat(topConf, 'f', 4, 64),
				},
			},
		}
		if err := idx.Upsert(ctx, []semantic.Entry{entry}); err != nil {
			return fn.Err[string](fmt.Errorf("index upsert: %w", err))
		}

		if gw != nil {
			node := graph.Report{
				ID:        r.ID,
				Source:    r.Source,
				Title:     r.Title,
				Statement: r.Statement.Text,
				Category:  r.Classification.Category,
				Method:    string(r.Statement.Method),
				Technical: r.Classification.Technical,
				Timestamp: r.Timestamp,
			}
			if err := gw.SaveReport(ctx, node, cls.TechnicalTerms(r.Cleaned)); err != nil {
				log.Warn("ingest: graph save failed, index write kept", "report_id", r.ID, "error", err)
			}
		}
		return fn.Ok(r.ID)
	}
}

// LoggedTap returns a pass-through stage that logs stage entry at debug
// level. Timing lives on the trace spans.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, _ T) {
		log.Debug("stage.enter", "stage", name)
	})
}

// NewPipeline composes the full ingestion pipeline.
func NewPipeline(deps Deps) fn.Stage[domain.RawReport, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	// Tracks which generator produced each statement, so a dying AI backend
	// shows up as a shift toward rule and fallback counts.
	countMethod := fn.TapStage(func(_ context.Context, r SynthesizedReport) {
		name := metrics.WithLabels("statements_synthesized_total", "method", string(r.Statement.Method))
		reg.Counter(name, "Statements produced per generator").Inc()
	})

	// Embedding talks to a remote model server, so it retries with backoff
	// before the whole message fails into the redelivery path.
	embed := fn.RetryStage(fn.RetryOpts{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Jitter:      true,
	}, NewEmbed(deps.Embedder))

	validated := fn.Then(LoggedTap[domain.RawReport]("validate", log), fn.TracedStage("ingest.validate", Validate))
	cleaned := fn.Then(validated, fn.Then(LoggedTap[domain.RawReport]("clean", log), fn.TracedStage("ingest.clean", Clean)))
	synthesized := fn.Then(cleaned, fn.Then(LoggedTap[CleanedReport]("synthesize", log), fn.TracedStage("ingest.synthesize", NewSynthesize(deps.Statements))))
	counted := fn.Then(synthesized, countMethod)
	classified := fn.Then(counted, fn.Then(LoggedTap[SynthesizedReport]("classify", log), fn.TracedStage("ingest.classify", NewClassify(deps.Classifier))))
	embedded := fn.Then(classified, fn.Then(LoggedTap[ClassifiedReport]("embed", log), fn.TracedStage("ingest.embed", embed)))
	return fn.Then(embedded, fn.Then(LoggedTap[EmbeddedReport]("store", log), fn.TracedStage("ingest.store", NewStore(deps.Index, deps.Graph, deps.Classifier, log))))
}

// DeadLetter is published to the DLQ on repeated failure.
type DeadLetter struct {
	Report  domain.RawReport `json:"report"`
	Error   string           `json:"error"`
	Retries int              `json:"retries"`
}

// StartConsumer subscribes to the report subject and runs each message
// through the pipeline, with retry and DLQ handling.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	ingested := reg.Counter("reports_ingested_total", "Reports stored by the ingest pipeline")
	failed := reg.Counter("reports_failed_total", "Reports that failed the ingest pipeline")
	deadLettered := reg.Counter("reports_dead_lettered_total", "Reports sent to the DLQ")
	duration := reg.Histogram("ingest_duration_seconds", "Ingest pipeline latency", nil)

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var report domain.RawReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		if deps.Exists != nil {
			exists, err := deps.Exists(ctx, report.ID)
			if err != nil {
				log.Warn("ingest: dedup check failed", "error", err)
			} else if exists {
				log.Info("ingest: skipping duplicate", "report_id", report.ID)
				return
			}
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		start := time.Now()
		result := pipeline(ctx, report)
		duration.Since(start)

		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			failed.Inc()
			log.Error("ingest: pipeline failed",
				"error", pipeErr, "report_id", report.ID, "retry", retries)

			if retries >= MaxRetries {
				deadLettered.Inc()
				dlq := DeadLetter{Report: report, Error: pipeErr.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(Subject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", strconv.Itoa(retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
			return
		}

		reportID, _ := result.Unwrap()
		ingested.Inc()
		log.Info("ingest: stored", "report_id", reportID)
	})
}
