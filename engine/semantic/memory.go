package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryIndex is an exact-search similarity index held in memory, with JSON
// snapshot persistence. Search is brute-force cosine over the full corpus,
// which is the required behavior at a few thousand vectors.
type MemoryIndex struct {
	mu      sync.RWMutex
	dims    int
	version string
	seq     uint64
	entries map[string]*storedEntry
}

// storedEntry pins an entry to its insertion sequence. Re-upserting an id
// replaces the entry but keeps its original position, so tie-breaks stay
// stable across regeneration.
type storedEntry struct {
	entry Entry
	seq   uint64
}

// NewMemoryIndex creates an empty index for the given dimensionality and
// active embedding model version.
func NewMemoryIndex(dims int, modelVersion string) *MemoryIndex {
	return &MemoryIndex{
		dims:    dims,
		version: modelVersion,
		entries: make(map[string]*storedEntry),
	}
}

// ModelVersion returns the active embedding model version.
func (m *MemoryIndex) ModelVersion() string { return m.version }

func (m *MemoryIndex) checkVector(values []float32, modelVersion string) error {
	if modelVersion != m.version {
		return fmt.Errorf("%w: have %q, index requires %q", ErrModelVersionMismatch, modelVersion, m.version)
	}
	if len(values) != m.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(values), m.dims)
	}
	return nil
}

// Upsert stores entries, replacing any prior entry per report id. Each
// entry is swapped in atomically under the index lock; a batch is not
// atomic as a whole.
func (m *MemoryIndex) Upsert(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := m.checkVector(e.Values, e.ModelVersion); err != nil {
			return fmt.Errorf("semantic: upsert %s: %w", e.ReportID, err)
		}
		if e.ReportID == "" {
			return fmt.Errorf("semantic: upsert: empty report id")
		}
		m.mu.Lock()
		if prev, ok := m.entries[e.ReportID]; ok {
			m.entries[e.ReportID] = &storedEntry{entry: e, seq: prev.seq}
		} else {
			m.seq++
			m.entries[e.ReportID] = &storedEntry{entry: e, seq: m.seq}
		}
		m.mu.Unlock()
	}
	return nil
}

// Remove deletes the entry for a report id; unknown ids are a no-op.
func (m *MemoryIndex) Remove(_ context.Context, reportID string) error {
	m.mu.Lock()
	delete(m.entries, reportID)
	m.mu.Unlock()
	return nil
}

// Get returns the stored entry for a report id, if present.
func (m *MemoryIndex) Get(_ context.Context, reportID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	se, ok := m.entries[reportID]
	if !ok {
		return Entry{}, false, nil
	}
	return se.entry, true, nil
}

// Search returns up to k entries ordered by descending cosine similarity
// against the query vector, ties broken by insertion order. k not smaller
// than the corpus returns the whole (filtered) corpus, ordered.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error) {
	if err := m.checkVector(vector, modelVersion); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		res SearchResult
		seq uint64
	}

	m.mu.RLock()
	candidates := make([]scored, 0, len(m.entries))
	for _, se := range m.entries {
		if !se.entry.Metadata.Matches(filters) {
			continue
		}
		candidates = append(candidates, scored{
			res: SearchResult{
				ReportID: se.entry.ReportID,
				Score:    Cosine(vector, se.entry.Values),
				Metadata: se.entry.Metadata,
			},
			seq: se.seq,
		})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].res.Score != candidates[j].res.Score {
			return candidates[i].res.Score > candidates[j].res.Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].res
	}
	return out, nil
}

// Browse returns up to limit entries ordered by descending timestamp,
// most recently inserted first among equal timestamps.
func (m *MemoryIndex) Browse(_ context.Context, limit int, filters map[string]string) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	type dated struct {
		res SearchResult
		seq uint64
	}

	m.mu.RLock()
	candidates := make([]dated, 0, len(m.entries))
	for _, se := range m.entries {
		if !se.entry.Metadata.Matches(filters) {
			continue
		}
		candidates = append(candidates, dated{
			res: SearchResult{
				ReportID: se.entry.ReportID,
				Metadata: se.entry.Metadata,
			},
			seq: se.seq,
		})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].res.Metadata.Timestamp, candidates[j].res.Metadata.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return candidates[i].seq > candidates[j].seq
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]SearchResult, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].res
	}
	return out, nil
}

// Count returns the number of stored entries matching the filters.
func (m *MemoryIndex) Count(_ context.Context, filters map[string]string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(filters) == 0 {
		return len(m.entries), nil
	}
	n := 0
	for _, se := range m.entries {
		if se.entry.Metadata.Matches(filters) {
			n++
		}
	}
	return n, nil
}

// snapshot is the on-disk layout, tagged with the producing model version
// so a restart never silently mixes embedding versions.
type snapshot struct {
	ModelVersion string  `json:"model_version"`
	Dimension    int     `json:"dimension"`
	Entries      []Entry `json:"entries"` // in insertion order
}

// Save writes the index to path atomically (temp file + rename).
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	ordered := make([]*storedEntry, 0, len(m.entries))
	for _, se := range m.entries {
		ordered = append(ordered, se)
	}
	m.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	snap := snapshot{ModelVersion: m.version, Dimension: m.dims, Entries: make([]Entry, len(ordered))}
	for i, se := range ordered {
		snap.Entries[i] = se.entry
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("semantic: encode snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("semantic: snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("semantic: commit snapshot: %w", err)
	}
	return nil
}

// Load replaces the index contents from a snapshot written by Save. A
// snapshot produced under a different model version is rejected; the caller
// must re-embed rather than query mixed vectors.
func (m *MemoryIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("semantic: read snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("semantic: decode snapshot %s: %w", path, err)
	}
	if snap.ModelVersion != m.version {
		return fmt.Errorf("semantic: load %s: %w: snapshot %q, index %q",
			path, ErrModelVersionMismatch, snap.ModelVersion, m.version)
	}
	if snap.Dimension != m.dims {
		return fmt.Errorf("semantic: load %s: %w: snapshot %d, index %d",
			path, ErrDimensionMismatch, snap.Dimension, m.dims)
	}

	entries := make(map[string]*storedEntry, len(snap.Entries))
	var seq uint64
	for _, e := range snap.Entries {
		seq++
		entries[e.ReportID] = &storedEntry{entry: e, seq: seq}
	}

	m.mu.Lock()
	m.entries = entries
	m.seq = seq
	m.mu.Unlock()
	return nil
}
