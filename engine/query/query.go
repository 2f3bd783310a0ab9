// Package query orchestrates the read side of the pipeline. It accepts a
// free-text query, normalizes and embeds it, searches the similarity index,
// applies metadata post-filters, and returns a ranked, paginated answer.
// An empty query skips embedding and browses the corpus by recency.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
	"github.com/PainSignalAI/painsignal-mvp/engine/normalize"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/pkg/fn"
)

// Options configures search behaviour.
type Options struct {
	// DefaultLimit is used when a request does not set one.
	DefaultLimit int
	// MaxLimit bounds the per-page size a caller may ask for.
	MaxLimit int
	// Oversample multiplies k before post-filtering, so that filters do not
	// starve a page. Minimum 1.
	Oversample int
	// MinScore drops hits below this cosine similarity. Zero keeps all.
	// With a nonzero MinScore the response Total only counts hits inside
	// the fetched window, since scores outside it are unknown.
	MinScore float32
	// SearchTimeout bounds one index round trip.
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:  20,
		MaxLimit:      100,
		Oversample:    4,
		MinScore:      0,
		SearchTimeout: 5 * time.Second,
	}
}

// Engine answers similarity queries over the indexed corpus.
type Engine struct {
	embed  semantic.Embedder
	index  semantic.Index
	opts   Options
	logger *slog.Logger
}

// New creates a query Engine.
func New(embed semantic.Embedder, index semantic.Index, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.Oversample < 1 {
		opts.Oversample = 1
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	return &Engine{embed: embed, index: index, opts: opts, logger: logger}
}

// Request is one search request. Zero-value filter fields mean "any".
type Request struct {
	Query         string `json:"query"`
	Category      string `json:"category,omitempty"`
	Source        string `json:"source,omitempty"`
	Method        string `json:"method,omitempty"`
	TechnicalOnly bool   `json:"technical_only,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// Response is a ranked page of hits. Total counts all hits that passed the
// filters, not just the returned page.
type Response struct {
	Hits   []domain.RankedHit `json:"hits"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Search runs the query pipeline. An empty (or filler-only) query returns
// the most recent entries instead of a similarity ranking.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	limit := req.Limit
	if limit == 0 {
		limit = e.opts.DefaultLimit
	}
	if limit < 0 || limit > e.opts.MaxLimit {
		return nil, fmt.Errorf("%w: limit %d not in [1, %d]", domain.ErrLimitOutOfRange, limit, e.opts.MaxLimit)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", domain.ErrInvalidQuery, req.Offset)
	}

	filters := buildFilters(req)
	cleaned := normalize.Clean(req.Query)

	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	if cleaned == "" {
		return e.browse(searchCtx, limit, req.Offset, filters)
	}

	vector, err := e.embed.Embed(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("query: embed: %w", err)
	}

	// Fetch enough candidates that post-filtering and the offset still
	// leave a full page.
	k := (req.Offset + limit) * e.opts.Oversample
	results, err := e.index.Search(searchCtx, vector, e.embed.ModelVersion(), k, filters)
	if err != nil {
		return nil, fmt.Errorf("query: index search: %w", err)
	}

	kept := results
	if e.opts.MinScore > 0 {
		kept = fn.Filter(results, func(r semantic.SearchResult) bool {
			return r.Score >= e.opts.MinScore
		})
	}
	hits := fn.Map(kept, toHit)
	e.logger.Info("query search done",
		"query_len", len(req.Query), "candidates", len(results), "kept", len(hits))

	resp := page(hits, limit, req.Offset)
	if e.opts.MinScore == 0 {
		// Every stored entry that passes the metadata filters is a candidate,
		// so the index count is the exact post-filter total even when it
		// exceeds the fetched window.
		total, err := e.index.Count(searchCtx, filters)
		if err != nil {
			return nil, fmt.Errorf("query: count: %w", err)
		}
		resp.Total = total
	}
	return resp, nil
}

// browse serves empty-query requests by recency.
func (e *Engine) browse(ctx context.Context, limit, offset int, filters map[string]string) (*Response, error) {
	// Browse has no offset, so over-fetch and slice locally.
	results, err := e.index.Browse(ctx, offset+limit, filters)
	if err != nil {
		return nil, fmt.Errorf("query: browse: %w", err)
	}
	hits := fn.Map(results, toHit)

	total, err := e.index.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("query: count: %w", err)
	}

	resp := page(hits, limit, offset)
	resp.Total = total
	return resp, nil
}

// Similar returns the nearest neighbors of an already-indexed report,
// excluding the report itself.
func (e *Engine) Similar(ctx context.Context, reportID string, k int) ([]domain.RankedHit, error) {
	if reportID == "" {
		return nil, fmt.Errorf("%w: empty report id", domain.ErrInvalidQuery)
	}
	if k <= 0 {
		k = e.opts.DefaultLimit
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	seed, ok, err := e.index.Get(searchCtx, reportID)
	if err != nil {
		return nil, fmt.Errorf("query: similar: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown report id %q", domain.ErrInvalidQuery, reportID)
	}

	// k+1 because the seed report itself is its own nearest neighbor.
	results, err := e.index.Search(searchCtx, seed.Values, seed.ModelVersion, k+1, nil)
	if err != nil {
		return nil, fmt.Errorf("query: similar: %w", err)
	}

	hits := make([]domain.RankedHit, 0, k)
	for _, r := range results {
		if r.ReportID == reportID {
			continue
		}
		if len(hits) == k {
			break
		}
		hits = append(hits, toHit(r))
	}
	return hits, nil
}

func buildFilters(req Request) map[string]string {
	filters := map[string]string{}
	if req.Category != "" {
		filters["category"] = req.Category
	}
	if req.Source != "" {
		filters["source"] = req.Source
	}
	if req.Method != "" {
		filters["method"] = req.Method
	}
	if req.TechnicalOnly {
		filters["technical"] = "true"
	}
	return filters
}

// page slices hits into one page, keeping the pre-slice count as Total.
func page(hits []domain.RankedHit, limit, offset int) *Response {
	total := len(hits)
	if offset >= total {
		hits = nil
	} else {
		end := offset + limit
		if end > total {
			end = total
		}
		hits = hits[offset:end]
	}
	return &Response{Hits: hits, Total: total, Limit: limit, Offset: offset}
}

func toHit(r semantic.SearchResult) domain.RankedHit {
	hit := domain.RankedHit{
		ReportID:   r.ReportID,
		Statement:  r.Metadata.Statement,
		Method:     domain.GenerationMethod(r.Metadata.Method),
		Category:   r.Metadata.Category,
		Similarity: r.Score,
		Source:     r.Metadata.Source,
		Title:      r.Metadata.Title,
		Timestamp:  r.Metadata.Timestamp,
	}
	if raw, ok := r.Metadata.Extra["confidence"]; ok {
		if conf, err := strconv.ParseFloat(raw, 64); err == nil {
			hit.Confidences = map[string]float64{r.Metadata.Category: conf}
		}
	}
	return hit
}
