package matcher

import (
	"fmt"
	"iter"

	"github.com/example/palm-pay/internal/features"
)

// Strategy names a scoring strategy.
type Strategy string

const (
	StrategyCosine   Strategy = "cosine"
	StrategyPointSet Strategy = "pointset"
)

// Reference acceptance thresholds.
const (
	DefaultCosineThreshold   = 0.65
	DefaultPointSetThreshold = 0.8
)

// Candidate is an enrolled template offered to the matcher.
type Candidate struct {
	ID     features.TemplateID
	Vector features.FeatureVector
}

// Decision is the outcome of a best-match search.
type Decision struct {
	Matched    bool
	TemplateID features.TemplateID
	// Score is the best score observed, whether or not it was accepted.
	Score     float64
	Evaluated int
}

// Matcher applies a Scorer across candidates and accepts the best one when
// it strictly exceeds Threshold.
type Matcher struct {
	scorer    Scorer
	threshold float64
}

// New constructs a Matcher.
func New(scorer Scorer, threshold float64) *Matcher {
	return &Matcher{scorer: scorer, threshold: threshold}
}

// NewForStrategy builds the Scorer for a configured strategy.
func NewForStrategy(strategy Strategy, threshold float64, pointSet PointSet) (*Matcher, error) {
	switch strategy {
	case StrategyCosine:
		return New(Cosine{}, threshold), nil
	case StrategyPointSet:
		return New(pointSet, threshold), nil
	}
	return nil, fmt.Errorf("unknown match strategy %q", strategy)
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Best scores presented against every candidate. Ties at the maximum go to
// the lexicographically smallest TemplateID so the outcome does not depend
// on iteration order.
func (m *Matcher) Best(presented features.FeatureVector, candidates iter.Seq[Candidate]) Decision {
	var (
		best    Decision
		haveAny bool
	)
	for c := range candidates {
		best.Evaluated++
		score := m.scorer.Score(presented, c.Vector)
		switch {
		case !haveAny, score > best.Score:
			best.Score = score
			best.TemplateID = c.ID
			haveAny = true
		case score == best.Score && c.ID < best.TemplateID:
			best.TemplateID = c.ID
		}
	}

	if haveAny && best.Score > m.threshold {
		best.Matched = true
		return best
	}
	best.TemplateID = ""
	return best
}
