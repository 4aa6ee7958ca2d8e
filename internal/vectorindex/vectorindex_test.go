package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-3, 0}), 1e-9)

	// Mismatched widths and zero vectors score 0.
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
}

func TestTopKRanksAndDropsMissing(t *testing.T) {
	embeddings := map[string][]float64{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0, 1},
		// "d" has no embedding
	}
	lookup := func(id string) []float64 { return embeddings[id] }

	got := TopK([]float64{1, 0}, []string{"a", "b", "c", "d"}, lookup, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestTopKBeyondCandidateCount(t *testing.T) {
	lookup := func(id string) []float64 { return []float64{1} }
	got := TopK([]float64{1}, []string{"x"}, lookup, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
}
