// Package velocity counts evaluations per applicant.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// keyPrefix namespaces velocity counters in the cache.
const keyPrefix = "velocity:"

// Service counts applicant evaluations within a sliding window.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service. Either dependency may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// RecordApplication counts an evaluation for the applicant and returns the
// number of evaluations in the window, the current one included.
// This is the VelocityGetter function signature expected by the rule engine.
func (s *Service) RecordApplication(ctx context.Context, applicantID string, windowSecs int) (int64, error) {
	if applicantID == "" {
		return 0, fmt.Errorf("applicantID is required")
	}
	if windowSecs <= 0 {
		return 0, fmt.Errorf("window must be positive, got %d", windowSecs)
	}
	window := time.Duration(windowSecs) * time.Second

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, keyPrefix+applicantID, window)
		if err == nil {
			return count, nil
		}
		slog.Warn("velocity counter unavailable, using decision history",
			"applicant_id", applicantID,
			"error", err,
		)
	}

	if s.repo != nil {
		count, err := s.repo.CountDecisionsByApplicant(ctx, applicantID, time.Now().Add(-window))
		if err != nil {
			return 0, fmt.Errorf("failed to count decisions: %w", err)
		}
		return count + 1, nil
	}

	return 0, fmt.Errorf("no data source available")
}

// GetVelocityGetter returns a VelocityGetter function for the rule engine.
func (s *Service) GetVelocityGetter() func(ctx context.Context, applicantID string, windowSecs int) (int64, error) {
	return s.RecordApplication
}
