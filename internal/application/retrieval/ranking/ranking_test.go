package ranking

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() ([]float32, []Candidate) {
	query := []float32{1, 0, 0}
	cands := []Candidate{
		{ID: "far", Vector: []float32{-1, 0, 0}},
		{ID: "near", Vector: []float32{0.9, 0.1, 0}},
		{ID: "near-dup", Vector: []float32{0.9, 0.1, 0}},
		{ID: "side", Vector: []float32{0.6, 0, 0.8}},
		{ID: "orth", Vector: []float32{0, 1, 0}},
	}
	return query, cands
}

func ids(s []Scored) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = v.ID
	}
	return out
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-12)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
}

func TestTopK(t *testing.T) {
	query, cands := fixture()

	t.Run("sorted descending with id tiebreak", func(t *testing.T) {
		got := TopK(query, cands, 10)
		require.Len(t, got, 5)
		assert.Equal(t, []string{"near", "near-dup", "side", "orth", "far"}, ids(got))
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
		}
	})

	t.Run("truncates to k", func(t *testing.T) {
		got := TopK(query, cands, 2)
		assert.Equal(t, []string{"near", "near-dup"}, ids(got))
	})

	t.Run("fewer candidates than k", func(t *testing.T) {
		got := TopK(query, cands[:1], 5)
		assert.Len(t, got, 1)
	})

	t.Run("no candidates", func(t *testing.T) {
		assert.Empty(t, TopK(query, nil, 5))
	})
}

func TestMMR(t *testing.T) {
	query, cands := fixture()

	t.Run("lambda one equals default ordering", func(t *testing.T) {
		want := TopK(query, cands, 4)
		got := MMR(query, cands, 4, 1)
		assert.Equal(t, want, got)
	})

	t.Run("never repeats an id", func(t *testing.T) {
		for _, lambda := range []float64{0, 0.25, 0.5, 0.75, 1} {
			got := MMR(query, cands, len(cands), lambda)
			seen := map[string]bool{}
			for _, s := range got {
				assert.False(t, seen[s.ID], "lambda=%v repeated %s", lambda, s.ID)
				seen[s.ID] = true
			}
			assert.Len(t, got, len(cands))
		}
	})

	t.Run("diversity demotes duplicates", func(t *testing.T) {
		got := MMR(query, cands, 2, 0.5)
		require.Len(t, got, 2)
		assert.Equal(t, "near", got[0].ID)
		assert.NotEqual(t, "near-dup", got[1].ID)
	})

	t.Run("first score is lambda times relevance", func(t *testing.T) {
		got := MMR(query, cands, 1, 0.5)
		require.Len(t, got, 1)
		assert.InDelta(t, 0.5*Cosine(query, cands[1].Vector), got[0].Score, 1e-12)
	})

	t.Run("k larger than candidates", func(t *testing.T) {
		assert.Len(t, MMR(query, cands[:2], 10, 0.5), 2)
		assert.Empty(t, MMR(query, nil, 3, 0.5))
	})
}

func TestLearners(t *testing.T) {
	query := []float32{1, 0}
	cands := []Candidate{
		{ID: "a-near", Vector: []float32{0.9, 0.1}},
		{ID: "b-orth", Vector: []float32{0, 1}},
		{ID: "c-opposite", Vector: []float32{-1, 0}},
	}

	t.Run("linear ranks nearest first", func(t *testing.T) {
		got, err := Linear(query, cands, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a-near", got[0].ID)
		assert.Equal(t, "c-opposite", got[2].ID)
	})

	t.Run("svm ranks nearest first", func(t *testing.T) {
		got, err := SVM(query, cands, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a-near", got[0].ID)
		assert.Equal(t, "c-opposite", got[2].ID)
	})

	t.Run("deterministic across calls and input order", func(t *testing.T) {
		reversed := []Candidate{cands[2], cands[1], cands[0]}
		a, err := SVM(query, cands, 3)
		require.NoError(t, err)
		b, err := SVM(query, reversed, 3)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("respects k and empty input", func(t *testing.T) {
		got, err := Linear(query, cands, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = SVM(query, nil, 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := Linear(query, []Candidate{{ID: "x", Vector: []float32{1, 2, 3}}}, 1)
		assert.Error(t, err)
	})
}

func TestRidgeDualMatchesPrimal(t *testing.T) {
	query := []float32{0.3, -0.2, 0.9, 0.1}
	var cands []Candidate
	for i := 0; i < 6; i++ {
		f := float32(i + 1)
		cands = append(cands, Candidate{
			ID:     fmt.Sprintf("c%d", i),
			Vector: []float32{f * 0.1, float32(math.Sin(float64(f))), 1 / f, -f * 0.05},
		})
	}
	x, err := designMatrix(query, sortedByID(cands))
	require.NoError(t, err)

	dual, err := ridgeDual(x, ridgeAlpha)
	require.NoError(t, err)
	primal, err := ridgePrimal(x, ridgeAlpha)
	require.NoError(t, err)

	require.Len(t, dual, len(primal))
	for i := range dual {
		assert.InDelta(t, primal[i], dual[i], 1e-9)
	}
}
