// Package classify scores cleaned report text against per-category keyword
// sets. The keyword table is immutable once built; updates happen only
// through an explicit Reload that swaps the whole table atomically.
package classify

import (
	"sort"
	"strings"
	"sync"

	"github.com/PainSignalAI/painsignal-mvp/engine/domain"
)

// CategoryOther is the resolved category when no keyword matches.
const CategoryOther = "other"

// tieEpsilon is the confidence band within which two categories count as
// tied; ties resolve by the table's declared priority order.
const tieEpsilon = 0.01

// Result is the classification outcome for one text.
type Result struct {
	Category  string
	Scores    []domain.CategoryScore // one per category, descending confidence
	Technical bool
	TotalHits int
}

// Classifier matches whole-word keywords against tokenized text.
type Classifier struct {
	mu    sync.RWMutex
	table *keywordTable
}

// New creates a Classifier with the built-in keyword table.
func New() *Classifier {
	return &Classifier{table: defaultTable()}
}

// NewFromConfig creates a Classifier from a YAML keyword file.
func NewFromConfig(path string) (*Classifier, error) {
	t, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	return &Classifier{table: t}, nil
}

// Reload replaces the keyword table from the YAML file. The old table stays
// active until the new one has parsed; in-flight calls are unaffected.
func (c *Classifier) Reload(path string) error {
	t, err := loadTable(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.table = t
	c.mu.Unlock()
	return nil
}

// Categories returns the known category names in priority order.
func (c *Classifier) Categories() []string {
	t := c.snapshot()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// TechnicalTerms returns the distinct technology and technical vocabulary
// tokens found in the text, in first-occurrence order. Category keywords
// count as terms, so two reports about the same stack share mention edges
// even when their generic symptoms differ.
func (c *Classifier) TechnicalTerms(text string) []string {
	t := c.snapshot()
	var out []string
	seen := map[string]bool{}
	for _, tok := range Tokenize(text) {
		if _, ok := t.terms[tok]; ok && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// Classify scores cleaned text against every category. Matching is on whole
// tokens only: a keyword never matches inside a longer token, so "go" does
// not hit in "golang". Confidence per category is hits/totalHits; with zero
// hits everywhere, all confidences are zero and the category resolves to
// "other".
func (c *Classifier) Classify(text string) Result {
	t := c.snapshot()
	tokens := Tokenize(text)

	hits := make(map[string]int, len(t.order))
	total := 0
	for _, cat := range t.order {
		n := countHits(tokens, t.keywords[cat])
		hits[cat] = n
		total += n
	}

	denom := float64(total)
	if denom < 1 {
		denom = 1 // floor: avoids division by zero when nothing matched
	}

	scores := make([]domain.CategoryScore, 0, len(t.order))
	maxConf := 0.0
	for _, cat := range t.order {
		conf := float64(hits[cat]) / denom
		if conf > maxConf {
			maxConf = conf
		}
		scores = append(scores, domain.CategoryScore{Category: cat, Confidence: conf})
	}

	// The winner is the first category, in declared priority order, whose
	// confidence is within tieEpsilon of the maximum. Input order of the
	// text never influences the outcome.
	category := CategoryOther
	if total > 0 {
		for _, s := range scores {
			if s.Confidence >= maxConf-tieEpsilon {
				category = s.Category
				break
			}
		}
	}

	// Stable: categories with equal confidence keep priority order.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})

	return Result{
		Category:  category,
		Scores:    scores,
		Technical: c.isTechnical(t, tokens) || total > 0,
		TotalHits: total,
	}
}

func (c *Classifier) snapshot() *keywordTable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table
}

func (c *Classifier) isTechnical(t *keywordTable, tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := t.technical[tok]; ok {
			return true
		}
	}
	return false
}

// countHits counts keyword occurrences over the token stream. Multi-token
// keywords (e.g. "react native", "ci/cd") match consecutive tokens.
func countHits(tokens []string, keywords [][]string) int {
	n := 0
	for _, kw := range keywords {
		switch len(kw) {
		case 0:
		case 1:
			for _, tok := range tokens {
				if tok == kw[0] {
					n++
				}
			}
		default:
			for i := 0; i+len(kw) <= len(tokens); i++ {
				if matchAt(tokens, i, kw) {
					n++
				}
			}
		}
	}
	return n
}

func matchAt(tokens []string, i int, kw []string) bool {
	for j, w := range kw {
		if tokens[i+j] != w {
			return false
		}
	}
	return true
}

// Tokenize splits cleaned text into word tokens. Letters, digits, and the
// characters '+', '#' stay inside a token so that c++, c#, and version-ish
// tokens survive whole.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '+' || r == '#':
			return false
		}
		return true
	})
}
