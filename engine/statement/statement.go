// Package statement turns cleaned report text into a canonical problem
// statement. Generation is an ordered chain of strategies: an AI backend
// first, a deterministic rule-based composer second, and a fixed placeholder
// last. Each candidate passes a validation gate before being accepted, and
// the strategy that produced the accepted statement is always recorded.
package statement

import (
	"context"
	"log/slog"
	"time"

	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
)

// Generator is one statement-generation strategy.
type Generator interface {
	// Method identifies the provenance this generator stamps on its output.
	Method() domain.GenerationMethod
	// Generate produces a candidate statement from cleaned text. An error
	// (including ctx timeout) moves the chain to the next strategy.
	Generate(ctx context.Context, cleaned string) (string, error)
}

// Options configures the synthesizer.
type Options struct {
	// Timeout bounds each generator attempt. A generator that overruns it
	// is a failure, never a stall.
	Timeout time.Duration
	Gate    Gate
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout: 10 * time.Second,
		Gate:    DefaultGate(),
	}
}

// Synthesizer runs the generator chain with a validation gate.
type Synthesizer struct {
	gens   []Generator
	opts   Options
	logger *slog.Logger
}

// New builds a Synthesizer with the standard chain. A nil backend skips the
// AI strategy entirely; the rule-based and placeholder strategies always
// take part.
func New(backend TextGenerator, opts Options, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	var gens []Generator
	if backend != nil {
		gens = append(gens, NewAIGenerator(backend))
	}
	gens = append(gens, NewRuleGenerator(), placeholderGenerator{})
	return &Synthesizer{gens: gens, opts: opts, logger: logger}
}

// NewWithChain builds a Synthesizer over an explicit generator chain.
func NewWithChain(opts Options, logger *slog.Logger, gens ...Generator) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{gens: gens, opts: opts, logger: logger}
}

// Synthesize produces the canonical statement for a report. It never fails:
// the placeholder strategy terminates the chain unconditionally, so every
// report ends up with a statement and a recorded generation method.
func (s *Synthesizer) Synthesize(ctx context.Context, reportID, cleaned string) domain.NormalizedStatement {
	for _, g := range s.gens {
		genCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		text, err := g.Generate(genCtx, cleaned)
		cancel()
		if err != nil {
			s.logger.Warn("statement: generator failed",
				"method", g.Method(), "report_id", reportID, "err", err)
			continue
		}
		if err := s.opts.Gate.Check(text); err != nil {
			s.logger.Warn("statement: candidate rejected",
				"method", g.Method(), "report_id", reportID, "err", err)
			continue
		}
		return domain.NormalizedStatement{
			ReportID: reportID,
			Text:     text,
			Method:   g.Method(),
			Valid:    true,
		}
	}

	// Unreachable with the standard chain; kept so a custom chain without
	// a terminal strategy still yields provenance.
	return domain.NormalizedStatement{
		ReportID: reportID,
		Text:     PlaceholderText,
		Method:   domain.MethodFallback,
		Valid:    s.opts.Gate.Check(PlaceholderText) == nil,
	}
}
