// Package semantic provides the similarity index: a durable keyed store of
// (vector, metadata) per report id with nearest-neighbor retrieval and
// metadata filtering. Two implementations exist: an exact in-memory index
// with snapshot persistence, and a Qdrant-backed store.
package semantic

import (
	"context"
	"errors"
	"math"
	"time"
)

// Errors surfaced by index implementations.
var (
	// ErrModelVersionMismatch means a vector was built under a different
	// embedding model version than the index's active one. Mixing versions
	// silently is a correctness bug, so this is always surfaced.
	ErrModelVersionMismatch = errors.New("embedding model version mismatch")
	// ErrDimensionMismatch means a vector's length differs from the
	// index's configured dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrUnavailable means the storage backend is unreachable; the
	// operation may be retried.
	ErrUnavailable = errors.New("similarity index unavailable")
)

// Embedder maps text to a fixed-dimension vector under one pinned model
// version. Batch embedding is semantically identical to independent
// per-item calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelVersion() string
}

// Metadata is the per-entry payload stored alongside a vector.
type Metadata struct {
	Statement string            `json:"statement"`
	Method    string            `json:"method"`
	Category  string            `json:"category"`
	Source    string            `json:"source"`
	Technical bool              `json:"technical"`
	Timestamp time.Time         `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// filterValue returns the metadata value for a filter key, flattening the
// well-known fields and falling back to Extra.
func (m Metadata) filterValue(key string) (string, bool) {
	switch key {
	case "category":
		return m.Category, true
	case "source":
		return m.Source, true
	case "technical":
		if m.Technical {
			return "true", true
		}
		return "false", true
	case "method":
		return m.Method, true
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Matches reports whether the metadata satisfies every equality predicate.
func (m Metadata) Matches(filters map[string]string) bool {
	for k, want := range filters {
		got, ok := m.filterValue(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Entry is the unit stored and queried by a similarity index.
type Entry struct {
	ReportID     string    `json:"report_id"`
	Values       []float32 `json:"values"`
	ModelVersion string    `json:"model_version"`
	Metadata     Metadata  `json:"metadata"`
}

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	ReportID string   `json:"report_id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Index is the similarity index contract.
//
// Upsert is idempotent per report id and atomic per entry: a concurrent
// reader sees either the old or the new entry, never a half-written one.
// Search returns hits ordered by descending cosine similarity, ties broken
// by insertion order; k at least the corpus size returns the whole corpus.
// Browse returns entries by descending recency, for queries with no text.
// Get fetches one stored entry, vector included, by report id.
// Count reports how many stored entries match the filters (nil counts all),
// so pagination totals stay exact past any fetch window.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Remove(ctx context.Context, reportID string) error
	Get(ctx context.Context, reportID string) (Entry, bool, error)
	Search(ctx context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error)
	Browse(ctx context.Context, limit int, filters map[string]string) ([]SearchResult, error)
	Count(ctx context.Context, filters map[string]string) (int, error)
	ModelVersion() string
}

// Cosine returns the cosine similarity of two vectors, 0 for zero-norm input.
func Cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
