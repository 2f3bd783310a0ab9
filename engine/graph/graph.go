package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/PainSignalAI/painsignal-mvp/pkg/repo"
)

// Store provides graph operations on top of the Neo4j driver.
type Store struct {
	driver  neo4j.DriverWithContext
	reports *repo.Neo4jRepo[Report, string]
}

// New creates a Store.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{
		driver:  driver,
		reports: newReportRepo(driver),
	}
}

// GetReport returns a report node by id.
func (s *Store) GetReport(ctx context.Context, id string) (Report, error) {
	return s.reports.Get(ctx, id)
}

// ListReports pages through report nodes in storage order.
func (s *Store) ListReports(ctx context.Context, offset, limit int) ([]Report, error) {
	return s.reports.List(ctx, repo.ListOpts{Offset: offset, Limit: limit})
}

// SaveReport writes a report node together with its category and term
// links in one transaction. Re-saving the same id replaces its links, so
// a regenerated report never accumulates stale terms.
func (s *Store) SaveReport(ctx context.Context, r Report, terms []string) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := `MERGE (r:Report {id: $id})
			SET r += $props
			WITH r
			OPTIONAL MATCH (r)-[old:MENTIONS|IN_CATEGORY]->()
			DELETE old`
		if _, err := tx.Run(ctx, cypher, map[string]any{
			"id":    r.ID,
			"props": reportToMap(r),
		}); err != nil {
			return nil, err
		}

		if r.Category != "" {
			cypher = `MATCH (r:Report {id: $id})
				MERGE (c:Category {name: $category})
				MERGE (r)-[:IN_CATEGORY]->(c)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id": r.ID, "category": r.Category,
			}); err != nil {
				return nil, err
			}
		}

		for _, term := range terms {
			cypher = `MATCH (r:Report {id: $id})
				MERGE (t:Term {token: $token})
				MERGE (r)-[:MENTIONS]->(t)`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"id": r.ID, "token": term,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: save report %s: %w", r.ID, err)
	}
	return nil
}

// RemoveReport deletes a report node and all of its relationships.
func (s *Store) RemoveReport(ctx context.Context, id string) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MATCH (r:Report {id: $id}) DETACH DELETE r`,
		map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("graph: remove report %s: %w", id, err)
	}
	return nil
}

// RelatedReports returns reports sharing technical terms with the given
// one, most shared terms first, most recent among equals.
func (s *Store) RelatedReports(ctx context.Context, id string, limit int) ([]Related, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (a:Report {id: $id})-[:MENTIONS]->(t:Term)<-[:MENTIONS]-(b:Report)
		WHERE b.id <> $id
		RETURN b, count(t) AS shared, collect(t.token) AS terms
		ORDER BY shared DESC, b.ts DESC
		LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: related reports %s: %w", id, err)
	}

	var out []Related
	for result.Next(ctx) {
		rec := result.Record()
		node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "b")
		if err != nil {
			return nil, fmt.Errorf("graph: related reports %s: %w", id, err)
		}
		rel := Related{Report: reportFromProps(node.Props)}
		if v, ok := rec.Get("shared"); ok {
			rel.SharedTerms, _ = v.(int64)
		}
		if v, ok := rec.Get("terms"); ok {
			if list, ok := v.([]any); ok {
				for _, raw := range list {
					if tok, ok := raw.(string); ok {
						rel.Terms = append(rel.Terms, tok)
					}
				}
			}
		}
		out = append(out, rel)
	}
	return out, nil
}

// CategoryCounts returns the number of reports per category, largest first.
func (s *Store) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (c:Category)<-[:IN_CATEGORY]-(r:Report)
		RETURN c.name AS name, count(r) AS count
		ORDER BY count DESC, name ASC`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: category counts: %w", err)
	}

	var out []CategoryCount
	for result.Next(ctx) {
		rec := result.Record()
		var cc CategoryCount
		if v, ok := rec.Get("name"); ok {
			cc.Category, _ = v.(string)
		}
		if v, ok := rec.Get("count"); ok {
			cc.Count, _ = v.(int64)
		}
		out = append(out, cc)
	}
	return out, nil
}

// NodeCounts returns node counts grouped by label, for the status endpoint.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: node counts: %w", err)
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, nil
}

func reportToMap(r Report) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"source":    r.Source,
		"title":     r.Title,
		"statement": r.Statement,
		"category":  r.Category,
		"method":    r.Method,
		"technical": r.Technical,
		"ts":        r.Timestamp.Unix(),
	}
}

func reportFromProps(props map[string]any) Report {
	r := Report{
		ID:        strProp(props, "id"),
		Source:    strProp(props, "source"),
		Title:     strProp(props, "title"),
		Statement: strProp(props, "statement"),
		Category:  strProp(props, "category"),
		Method:    strProp(props, "method"),
	}
	if v, ok := props["technical"].(bool); ok {
		r.Technical = v
	}
	if v, ok := props["ts"].(int64); ok {
		r.Timestamp = time.Unix(v, 0).UTC()
	}
	return r
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
