// Package domain defines core domain types, constants, and validation for the
// pain-signal engine pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

import "time"

// RawReport is a free-text report as delivered by the external collector.
// Immutable once received.
type RawReport struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// GenerationMethod records which strategy produced a canonical statement.
type GenerationMethod string

const (
	MethodAI       GenerationMethod = "ai"
	MethodRule     GenerationMethod = "rule"
	MethodFallback GenerationMethod = "fallback"
)

// ValidGenerationMethods is the set of recognised provenance values.
var ValidGenerationMethods = map[GenerationMethod]bool{
	MethodAI: true, MethodRule: true, MethodFallback: true,
}

// NormalizedStatement is the canonical problem statement for one report.
// Exactly one exists per report id at any time; regenerating it is
// idempotent in effect.
type NormalizedStatement struct {
	ReportID string           `json:"report_id"`
	Text     string           `json:"text"`
	Method   GenerationMethod `json:"method"`
	Valid    bool             `json:"valid"`
}

// CategoryScore is the classifier confidence for one category of one report.
type CategoryScore struct {
	ReportID   string  `json:"report_id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// RankedHit is one entry of a ranked query answer.
type RankedHit struct {
	ReportID    string             `json:"report_id"`
	Statement   string             `json:"statement"`
	Method      GenerationMethod   `json:"method"`
	Category    string             `json:"category"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
	Similarity  float32            `json:"similarity"`
	Source      string             `json:"source"`
	Title       string             `json:"title,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}
