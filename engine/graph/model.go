// Package graph maintains the Neo4j report graph: report nodes linked to
// their category and to the technical terms they mention. It powers the
// related-reports lookup and the corpus statistics surfaced by the API.
package graph

import "time"

// Report is one indexed report as stored in the graph.
type Report struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Title     string    `json:"title,omitempty"`
	Statement string    `json:"statement"`
	Category  string    `json:"category"`
	Method    string    `json:"method"`
	Technical bool      `json:"technical"`
	Timestamp time.Time `json:"timestamp"`
}

// Related is a neighbor report scored by shared vocabulary.
type Related struct {
	Report      Report   `json:"report"`
	SharedTerms int64    `json:"shared_terms"`
	Terms       []string `json:"terms,omitempty"`
}

// CategoryCount is the number of reports filed under one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}
