package matcher

import (
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/palm-pay/internal/features"
)

func candidates(cs ...Candidate) iter.Seq[Candidate] {
	return slices.Values(cs)
}

// fixedScores scores by the first component of the enrolled vector.
var fixedScores = ScorerFunc(func(_, enrolled features.FeatureVector) float64 {
	return enrolled.At(0)
})

func TestBestThresholdIsStrict(t *testing.T) {
	const threshold = 0.65
	m := New(fixedScores, threshold)

	at := m.Best(vec(1), candidates(Candidate{ID: "a", Vector: vec(threshold)}))
	assert.False(t, at.Matched)
	assert.Equal(t, threshold, at.Score)
	assert.Empty(t, at.TemplateID)

	above := m.Best(vec(1), candidates(Candidate{ID: "a", Vector: vec(threshold + 0.01)}))
	assert.True(t, above.Matched)
	assert.Equal(t, features.TemplateID("a"), above.TemplateID)
}

func TestBestEmptyCandidates(t *testing.T) {
	d := New(Cosine{}, DefaultCosineThreshold).Best(vec(1, 2, 3), candidates())
	assert.False(t, d.Matched)
	assert.Equal(t, 0.0, d.Score)
	assert.Equal(t, 0, d.Evaluated)
}

func TestBestPicksMaximum(t *testing.T) {
	m := New(fixedScores, 0.5)
	d := m.Best(vec(1), candidates(
		Candidate{ID: "a", Vector: vec(0.7)},
		Candidate{ID: "b", Vector: vec(0.9)},
		Candidate{ID: "c", Vector: vec(0.8)},
	))
	assert.True(t, d.Matched)
	assert.Equal(t, features.TemplateID("b"), d.TemplateID)
	assert.Equal(t, 0.9, d.Score)
	assert.Equal(t, 3, d.Evaluated)
}

func TestBestTieBreaksByTemplateID(t *testing.T) {
	m := New(fixedScores, 0.5)
	for _, order := range [][]Candidate{
		{{ID: "zz", Vector: vec(0.9)}, {ID: "aa", Vector: vec(0.9)}, {ID: "mm", Vector: vec(0.9)}},
		{{ID: "aa", Vector: vec(0.9)}, {ID: "mm", Vector: vec(0.9)}, {ID: "zz", Vector: vec(0.9)}},
	} {
		d := m.Best(vec(1), candidates(order...))
		assert.Equal(t, features.TemplateID("aa"), d.TemplateID)
	}
}

func TestNewForStrategy(t *testing.T) {
	m, err := NewForStrategy(StrategyPointSet, DefaultPointSetThreshold, PointSet{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPointSetThreshold, m.Threshold())

	_, err = NewForStrategy("euclid", 0.5, PointSet{})
	assert.Error(t, err)
}
