// Package vectorindex implements brute-force cosine ranking over
// operation embeddings. The in-memory store uses it directly; the
// PostgreSQL store pushes the same search down to pgvector.
package vectorindex

import (
	"math"
	"sort"
)

// Scored pairs an item ID with its similarity score.
type Scored struct {
	ID    string
	Score float64
}

// Cosine returns the cosine similarity of two vectors. Vectors of
// mismatched width or zero norm score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopK ranks candidates against the query vector and returns the best
// topK, highest score first. The vectors callback resolves each
// candidate ID to its embedding; candidates with no embedding drop out.
func TopK(query []float64, ids []string, vectors func(id string) []float64, topK int) []Scored {
	candidates := make([]Scored, 0, len(ids))
	for _, id := range ids {
		v := vectors(id)
		if len(v) == 0 {
			continue
		}
		candidates = append(candidates, Scored{ID: id, Score: Cosine(query, v)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	return candidates[:topK]
}
