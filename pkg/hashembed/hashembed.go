// Package hashembed implements a deterministic, dependency-free text
// embedder using feature hashing over word tokens. It exists for local mode
// and tests, where a model backend is unavailable: the mapping is stable
// across processes, so vectors written today match vectors computed
// tomorrow under the same version string.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Version identifies the hashing scheme; bump on any change to
// tokenization, stopwords, or bucket count.
const Version = "hashembed-v1"

// Embedder hashes token counts into a fixed number of buckets and
// L2-normalizes the result, so dot product equals cosine similarity.
type Embedder struct {
	dims int
}

// New creates an Embedder with the given dimensionality.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dims: dims}
}

// Dimension returns the fixed vector size.
func (e *Embedder) Dimension() int { return e.dims }

// ModelVersion returns the pinned scheme identifier.
func (e *Embedder) ModelVersion() string { return Version }

// stopwords are dropped before hashing; they carry no similarity signal.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "to": true, "of": true,
	"in": true, "for": true, "on": true, "with": true, "at": true,
	"by": true, "from": true, "as": true, "into": true, "that": true,
	"this": true, "these": true, "those": true, "it": true, "its": true,
	"and": true, "but": true, "or": true, "not": true, "my": true,
	"i": true, "me": true, "we": true, "you": true, "they": true,
	"when": true, "while": true, "really": true, "very": true,
}

// Embed maps text to its hashed bag-of-words vector. Empty or all-stopword
// text yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	var norm float64

	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		vec[h.Sum64()%uint64(e.dims)]++
	}
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '+' || r == '#':
			return false
		}
		return true
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
