// Package matcher scores presented feature vectors against enrolled ones
// and applies the acceptance policy.
package matcher

import (
	"fmt"
	"math"

	"github.com/example/palm-pay/internal/features"
)

// Scorer returns a similarity in [0,1] between a presented and an enrolled
// vector.
type Scorer interface {
	Score(presented, enrolled features.FeatureVector) float64
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(presented, enrolled features.FeatureVector) float64

// Score calls f.
func (f ScorerFunc) Score(presented, enrolled features.FeatureVector) float64 {
	return f(presented, enrolled)
}

// Cosine scores dense landmark vectors. Vectors of different lengths are
// truncated to the shorter one; the cosine is remapped from [-1,1] to
// [0,1]. A zero-norm side scores exactly 0.
type Cosine struct{}

// Score implements Scorer.
func (Cosine) Score(presented, enrolled features.FeatureVector) float64 {
	n := min(presented.Len(), enrolled.Len())
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		a, b := presented.At(i), enrolled.At(i)
		dot += a * b
		na += a * a
		nb += b * b
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01((cos + 1) / 2)
}

// Normalization selects the denominator of a point-set score.
type Normalization string

const (
	// NormalizePresented divides by the presented set size only. The score
	// is asymmetric: Score(a, b) != Score(b, a) in general.
	NormalizePresented Normalization = "presented"
	// NormalizeLarger divides by the larger of the two set sizes, so a small
	// presented set cannot fully match a large enrolled one.
	NormalizeLarger Normalization = "larger"
)

// ParseNormalization validates a configured normalization name.
func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(s) {
	case NormalizePresented, NormalizeLarger:
		return Normalization(s), nil
	}
	return "", fmt.Errorf("unknown point-set normalization %q", s)
}

// DefaultMaxDistance is the reference neighbour radius in pixels.
const DefaultMaxDistance = 10.0

// PointSet scores sparse keypoint features. A presented point matches when
// any enrolled point lies strictly closer than MaxDistance.
type PointSet struct {
	MaxDistance   float64
	Normalization Normalization
}

// Score implements Scorer.
func (p PointSet) Score(presented, enrolled features.FeatureVector) float64 {
	probe := presented.Points()
	ref := enrolled.Points()
	if len(probe) == 0 || len(ref) == 0 {
		return 0
	}

	maxDist := p.MaxDistance
	if maxDist <= 0 {
		maxDist = DefaultMaxDistance
	}

	matches := 0
	for _, a := range probe {
		for _, b := range ref {
			if math.Hypot(a.X-b.X, a.Y-b.Y) < maxDist {
				matches++
				break
			}
		}
	}

	denom := len(probe)
	if p.Normalization == NormalizeLarger && len(ref) > denom {
		denom = len(ref)
	}
	return clamp01(float64(matches) / float64(denom))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
