package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type thing struct {
	ID   string
	Name string
}

func thingToMap(t thing) map[string]any {
	return map[string]any{"id": t.ID, "name": t.Name}
}

func thingFromRecord(rec *neo4j.Record) (thing, error) {
	props := rec.Values[0].(map[string]any)
	return thing{ID: props["id"].(string), Name: props["name"].(string)}, nil
}

func thingRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{map[string]any{"id": id, "name": name}},
	}
}

// fakeResult walks a fixed record list.
type fakeResult struct {
	records []*neo4j.Record
	pos     int
}

func (r *fakeResult) Next(context.Context) bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeResult) Record() *neo4j.Record { return r.records[r.pos-1] }

// fakeRunner records the cypher and params of every Run call.
type fakeRunner struct {
	cyphers []string
	params  []map[string]any
	records []*neo4j.Record
	closed  bool
}

func (r *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	r.cyphers = append(r.cyphers, cypher)
	r.params = append(r.params, params)
	return &fakeResult{records: r.records}, nil
}

func (r *fakeRunner) Close(context.Context) error {
	r.closed = true
	return nil
}

func fakeRepo(fr *fakeRunner) *Neo4jRepo[thing, string] {
	r := NewNeo4jRepo[thing, string](nil, "Thing", thingToMap, thingFromRecord)
	r.newSession = func(context.Context) runner { return fr }
	return r
}

func TestGet(t *testing.T) {
	runner := &fakeRunner{records: []*neo4j.Record{thingRecord("t1", "alpha")}}
	r := fakeRepo(runner)

	got, err := r.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "alpha" {
		t.Fatalf("got %+v", got)
	}
	if runner.cyphers[0] != "MATCH (n:Thing {id: $id}) RETURN n" {
		t.Fatalf("cypher = %q", runner.cyphers[0])
	}
	if runner.params[0]["id"] != "t1" {
		t.Fatalf("params = %v", runner.params[0])
	}
	if !runner.closed {
		t.Fatal("session not closed")
	}
}

func TestGetNotFound(t *testing.T) {
	r := fakeRepo(&fakeRunner{})
	if _, err := r.Get(context.Background(), "missing"); err == nil {
		t.Fatal("missing id must error")
	}
}

func TestListPagination(t *testing.T) {
	runner := &fakeRunner{records: []*neo4j.Record{
		thingRecord("t1", "alpha"), thingRecord("t2", "beta"),
	}}
	r := fakeRepo(runner)

	items, err := r.List(context.Background(), ListOpts{Offset: 10, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[1].ID != "t2" {
		t.Fatalf("items = %+v", items)
	}
	cypher := runner.cyphers[0]
	if !strings.Contains(cypher, "SKIP $offset LIMIT $limit") {
		t.Fatalf("cypher = %q", cypher)
	}
	if runner.params[0]["offset"] != 10 || runner.params[0]["limit"] != 2 {
		t.Fatalf("params = %v", runner.params[0])
	}
}

func TestListDefaultLimit(t *testing.T) {
	runner := &fakeRunner{}
	r := fakeRepo(runner)
	if _, err := r.List(context.Background(), ListOpts{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if runner.params[0]["limit"] != 100 {
		t.Fatalf("default limit = %v", runner.params[0]["limit"])
	}
}

func TestListFilter(t *testing.T) {
	runner := &fakeRunner{}
	r := fakeRepo(runner)

	_, err := r.List(context.Background(), ListOpts{Filter: map[string]any{"name": "alpha"}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	cypher := runner.cyphers[0]
	if !strings.Contains(cypher, "WHERE n.name = $f0") {
		t.Fatalf("cypher = %q", cypher)
	}
	if runner.params[0]["f0"] != "alpha" {
		t.Fatalf("params = %v", runner.params[0])
	}
}

func TestCreate(t *testing.T) {
	runner := &fakeRunner{records: []*neo4j.Record{thingRecord("t3", "gamma")}}
	r := fakeRepo(runner)

	got, err := r.Create(context.Background(), thing{ID: "t3", Name: "gamma"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID != "t3" {
		t.Fatalf("got %+v", got)
	}
	props := runner.params[0]["props"].(map[string]any)
	if props["name"] != "gamma" {
		t.Fatalf("props = %v", props)
	}
}

func TestUpdateUsesIDFromEntity(t *testing.T) {
	runner := &fakeRunner{records: []*neo4j.Record{thingRecord("t1", "renamed")}}
	r := fakeRepo(runner)

	got, err := r.Update(context.Background(), thing{ID: "t1", Name: "renamed"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("got %+v", got)
	}
	if runner.params[0]["id"] != "t1" {
		t.Fatalf("params = %v", runner.params[0])
	}
	if !strings.Contains(runner.cyphers[0], "SET n += $props") {
		t.Fatalf("cypher = %q", runner.cyphers[0])
	}
}

func TestDeleteDetaches(t *testing.T) {
	runner := &fakeRunner{}
	r := fakeRepo(runner)

	if err := r.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !strings.Contains(runner.cyphers[0], "DETACH DELETE n") {
		t.Fatalf("cypher = %q", runner.cyphers[0])
	}
}

func TestCustomIDKey(t *testing.T) {
	fr := &fakeRunner{records: []*neo4j.Record{thingRecord("t1", "alpha")}}
	r := NewNeo4jRepo[thing, string](nil, "Thing", thingToMap, thingFromRecord,
		WithIDKey[thing, string]("uid"))
	r.newSession = func(context.Context) runner { return fr }

	if _, err := r.Get(context.Background(), "t1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(fr.cyphers[0], "{uid: $id}") {
		t.Fatalf("cypher = %q", fr.cyphers[0])
	}
}
