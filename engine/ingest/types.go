package ingest

import (
	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
)

// CleanedReport is a raw report with its normalized text attached.
type CleanedReport struct {
	domain.RawReport
	Cleaned string
}

// SynthesizedReport adds the canonical problem statement.
type SynthesizedReport struct {
	CleanedReport
	Statement domain.NormalizedStatement
}

// ClassifiedReport adds the category decision.
type ClassifiedReport struct {
	SynthesizedReport
	Classification classify.Result
}

// EmbeddedReport adds the statement embedding.
type EmbeddedReport struct {
	ClassifiedReport
	Vector []float32
}
