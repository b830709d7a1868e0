// Package memindex provides an in-memory implementation of incident.Index,
// used in tests and when no Qdrant endpoint is configured.
package memindex

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/incident"
)

const minScore = 0.3

type point struct {
	vector []float32
	entry  incident.IndexEntry
}

// Index stores embeddings in process memory with brute-force cosine search.
type Index struct {
	mu     sync.RWMutex
	points map[string]point
}

// New creates an empty Index.
func New() *Index {
	return &Index{points: make(map[string]point)}
}

// Upsert writes or replaces the point for an incident.
func (ix *Index) Upsert(_ context.Context, id string, vector []float32, entry incident.IndexEntry) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.points[id] = point{vector: vec, entry: entry}
	return nil
}

// Search returns up to k entries by cosine similarity, optionally filtered by
// category. Hits below the similarity floor are dropped.
func (ix *Index) Search(_ context.Context, vector []float32, k int, category string) ([]incident.SimilarIncident, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []incident.SimilarIncident
	for id, p := range ix.points {
		if category != "" && p.entry.Category != category {
			continue
		}
		score := cosine(vector, p.vector)
		if score < minScore {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, p.entry.Timestamp)
		hits = append(hits, incident.SimilarIncident{
			IncidentID:    id,
			Score:         score,
			Summary:       p.entry.Summary,
			SeverityLabel: p.entry.SeverityLabel,
			Timestamp:     ts,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
