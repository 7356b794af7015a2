package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/brunobiangulo/kgsearch/summary"
)

// Embedder is the embedding half of llm.Provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Selection is the database picked for a query.
type Selection struct {
	Database   string
	Similarity float64
}

// Selector picks the database whose summary is most similar to a query.
type Selector struct {
	embedder Embedder
}

// NewSelector returns a selector embedding through e.
func NewSelector(e Embedder) *Selector {
	return &Selector{embedder: e}
}

// Select embeds the query and every summary and returns the entry with the
// highest cosine similarity. Ties go to the entry inserted first. It reports
// false only when entries is empty. Summary embeddings are recomputed on
// every call.
func (s *Selector) Select(ctx context.Context, query string, entries []summary.Entry) (Selection, bool, error) {
	if len(entries) == 0 {
		return Selection{}, false, nil
	}

	qv, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Selection{}, false, fmt.Errorf("embedding query: %w", err)
	}
	if len(qv) != 1 {
		return Selection{}, false, fmt.Errorf("embedding query: got %d vectors", len(qv))
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Summary
	}
	sv, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return Selection{}, false, fmt.Errorf("embedding summaries: %w", err)
	}

	best := Selection{Similarity: math.Inf(-1)}
	for i, e := range entries {
		sim := -1.0
		if i < len(sv) {
			var ok bool
			if sim, ok = CosineSimilarity(qv[0], sv[i]); !ok {
				slog.Warn("search: unusable summary embedding", "database", e.Database,
					"query_dim", len(qv[0]), "summary_dim", len(sv[i]))
				sim = -1
			}
		}
		if sim > best.Similarity {
			best = Selection{Database: e.Database, Similarity: sim}
		}
	}
	return best, true, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. It
// reports false for empty, zero-norm, mismatched or non-finite vectors.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, false
	}
	return sim, true
}
