package usecase

import "context"

// MetricsSummary represents aggregated authentication insights.
type MetricsSummary struct {
	TotalAttempts   int64   `json:"total_attempts"`
	MatchedAttempts int64   `json:"matched_attempts"`
	MatchRate       float64 `json:"match_rate"`
	AverageScore    float64 `json:"average_score"`
	EnrolledCount   int     `json:"enrolled_templates"`
}

// GetMetricsSummary aggregates attempt metrics from persisted logs and
// counts current enrollments.
func (s *AuthenticationService) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := s.audit.AggregateAttempts(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAttempts:   aggregation.TotalCount,
		MatchedAttempts: aggregation.MatchedCount,
		AverageScore:    aggregation.AverageScore,
		EnrolledCount:   s.store.Snapshot().Len(),
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
