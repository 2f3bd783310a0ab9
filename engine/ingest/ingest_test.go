package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PainSignalAI/painsignal-mvp/engine/classify"
	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
	"github.com/PainSignalAI/painsignal-mvp/engine/graph"
	"github.com/PainSignalAI/painsignal-mvp/engine/query"
	"github.com/PainSignalAI/painsignal-mvp/engine/semantic"
	"github.com/PainSignalAI/painsignal-mvp/engine/statement"
	"github.com/PainSignalAI/painsignal-mvp/pkg/hashembed"
)

type fakeGraph struct {
	saved []graph.Report
	terms [][]string
	err   error
}

func (f *fakeGraph) SaveReport(_ context.Context, r graph.Report, terms []string) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, r)
	f.terms = append(f.terms, terms)
	return nil
}

func testDeps(t *testing.T, gw GraphWriter) (Deps, *semantic.MemoryIndex) {
	t.Helper()
	embed := hashembed.New(64)
	idx := semantic.NewMemoryIndex(embed.Dimension(), embed.ModelVersion())
	return Deps{
		Statements: statement.New(nil, statement.DefaultOptions(), nil),
		Classifier: classify.New(),
		Embedder:   embed,
		Index:      idx,
		Graph:      gw,
	}, idx
}

func rawReport(id, title, body string) domain.RawReport {
	return domain.RawReport{
		ID:        id,
		Title:     title,
		Body:      body,
		Source:    "forum",
		Timestamp: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestPipelineStoresReport(t *testing.T) {
	gw := &fakeGraph{}
	deps, idx := testDeps(t, gw)
	pipeline := NewPipeline(deps)

	report := rawReport("rep-1", "Python script too slow", "My python script is slow when processing large files")
	result := pipeline(context.Background(), report)
	id, err := result.Unwrap()
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if id != "rep-1" {
		t.Fatalf("returned id %q", id)
	}

	entry, ok, err := idx.Get(context.Background(), "rep-1")
	if err != nil || !ok {
		t.Fatalf("entry not indexed: ok=%v err=%v", ok, err)
	}
	md := entry.Metadata
	if md.Method != string(domain.MethodRule) {
		t.Errorf("Method = %q, want rule (no AI backend configured)", md.Method)
	}
	if md.Category != "software" {
		t.Errorf("Category = %q, want software", md.Category)
	}
	if !md.Technical {
		t.Error("report with python mention not marked technical")
	}
	if !strings.Contains(md.Statement, "python") {
		t.Errorf("statement lost the technology: %q", md.Statement)
	}
	if md.Source != "forum" || md.Title != "Python script too slow" {
		t.Errorf("source/title not carried: %+v", md)
	}
	if _, ok := md.Extra["confidence"]; !ok {
		t.Error("top classifier confidence not stored")
	}

	if len(gw.saved) != 1 {
		t.Fatalf("graph writes = %d, want 1", len(gw.saved))
	}
	if gw.saved[0].ID != "rep-1" || gw.saved[0].Category != "software" {
		t.Errorf("graph node wrong: %+v", gw.saved[0])
	}
	found := false
	for _, term := range gw.terms[0] {
		if term == "python" {
			found = true
		}
	}
	if !found {
		t.Errorf("technical terms missing python: %v", gw.terms[0])
	}
}

func TestPipelineRejectsInvalidReport(t *testing.T) {
	deps, idx := testDeps(t, nil)
	pipeline := NewPipeline(deps)
	ctx := context.Background()

	bad := []domain.RawReport{
		{Title: "no id", Body: "text", Source: "forum", Timestamp: time.Now()},
		{ID: "x", Source: "forum", Timestamp: time.Now()},
		{ID: "x", Title: "t", Body: "b", Timestamp: time.Now()},
		{ID: "x", Title: "t", Body: "b", Source: "forum"},
	}
	for _, r := range bad {
		if result := pipeline(ctx, r); !result.IsErr() {
			t.Errorf("invalid report accepted: %+v", r)
		}
	}
	if n, _ := idx.Count(ctx, nil); n != 0 {
		t.Fatalf("index has %d entries after rejected reports", n)
	}
}

func TestPipelineVagueTextFallsBack(t *testing.T) {
	deps, idx := testDeps(t, nil)
	pipeline := NewPipeline(deps)

	report := rawReport("rep-2", "", "thinking about what to have for lunch today")
	if result := pipeline(context.Background(), report); result.IsErr() {
		_, err := result.Unwrap()
		t.Fatalf("pipeline: %v", err)
	}

	entry, ok, _ := idx.Get(context.Background(), "rep-2")
	if !ok {
		t.Fatal("entry not indexed")
	}
	if entry.Metadata.Method != string(domain.MethodFallback) {
		t.Errorf("Method = %q, want fallback", entry.Metadata.Method)
	}
	if entry.Metadata.Statement != statement.PlaceholderText {
		t.Errorf("Statement = %q", entry.Metadata.Statement)
	}
	if entry.Metadata.Technical {
		t.Error("vague report marked technical")
	}
}

func TestPipelineGraphFailureIsBestEffort(t *testing.T) {
	gw := &fakeGraph{err: errors.New("neo4j down")}
	deps, idx := testDeps(t, gw)
	pipeline := NewPipeline(deps)

	report := rawReport("rep-3", "", "docker container crashes on start")
	result := pipeline(context.Background(), report)
	if _, err := result.Unwrap(); err != nil {
		t.Fatalf("graph failure must not fail the pipeline: %v", err)
	}
	if _, ok, _ := idx.Get(context.Background(), "rep-3"); !ok {
		t.Fatal("index write lost")
	}
}

func TestPipelineIdempotentPerID(t *testing.T) {
	deps, idx := testDeps(t, nil)
	pipeline := NewPipeline(deps)
	ctx := context.Background()

	report := rawReport("rep-4", "", "my python script is slow")
	for i := 0; i < 3; i++ {
		if result := pipeline(ctx, report); result.IsErr() {
			_, err := result.Unwrap()
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n, _ := idx.Count(ctx, nil); n != 1 {
		t.Fatalf("Count = %d after re-ingesting same id, want 1", n)
	}
}

func TestCleanStageUsesTitleAndBody(t *testing.T) {
	r := rawReport("rep-5", "Postgres install fails", "Cannot install postgres on ubuntu")
	result := Clean(context.Background(), r)
	cleaned, err := result.Unwrap()
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !strings.Contains(cleaned.Cleaned, "postgres install fails") {
		t.Errorf("title missing from cleaned text: %q", cleaned.Cleaned)
	}
	if !strings.Contains(cleaned.Cleaned, "ubuntu") {
		t.Errorf("body missing from cleaned text: %q", cleaned.Cleaned)
	}
}

func TestIngestThenSearchEndToEnd(t *testing.T) {
	embed := hashembed.New(384)
	idx := semantic.NewMemoryIndex(embed.Dimension(), embed.ModelVersion())
	pipeline := NewPipeline(Deps{
		Statements: statement.New(nil, statement.DefaultOptions(), nil),
		Classifier: classify.New(),
		Embedder:   embed,
		Index:      idx,
	})

	ctx := context.Background()
	reports := []domain.RawReport{
		rawReport("rep-py", "Python script is really slow", "My Python script is really slow when processing csv files with pandas"),
		rawReport("rep-gpu", "GPU overheating", "My gpu crashes and overheats, the fan runs loud during gaming"),
	}
	for _, r := range reports {
		if _, err := pipeline(ctx, r).Unwrap(); err != nil {
			t.Fatalf("ingest %s: %v", r.ID, err)
		}
	}

	opts := query.DefaultOptions()
	opts.MinScore = 0.3
	eng := query.New(embed, idx, opts, nil)

	resp, err := eng.Search(ctx, query.Request{Query: "python performance"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Hits) == 0 {
		t.Fatal("no hits above the relevance threshold")
	}
	top := resp.Hits[0]
	if top.ReportID != "rep-py" {
		t.Fatalf("top hit = %s, want rep-py", top.ReportID)
	}
	if top.Similarity < 0.3 {
		t.Fatalf("top similarity = %v, below the threshold", top.Similarity)
	}
	if !strings.HasPrefix(top.Statement, statement.SubjectMarker) {
		t.Errorf("statement lost the subject marker: %q", top.Statement)
	}
	if top.Category != "software" {
		t.Errorf("Category = %q, want software", top.Category)
	}
	if top.Method != domain.MethodRule {
		t.Errorf("Method = %q, want rule", top.Method)
	}
	// The hardware report shares no vocabulary with the query, so the
	// threshold keeps it out entirely.
	for _, h := range resp.Hits {
		if h.ReportID == "rep-gpu" {
			t.Fatalf("unrelated report passed the threshold with %v", h.Similarity)
		}
	}
}
