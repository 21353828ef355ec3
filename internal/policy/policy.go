// Package policy maps cohort statistics and anomaly signals to a verdict.
package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/credittwin/internal/anomaly"
	"github.com/opensource-finance/credittwin/internal/domain"
)

// Reason and condition texts.
const (
	ReasonIdentityAnomaly = "IDENTITY_ANOMALY: Our system detected patterns unusually similar to known high-risk applications."
	ReasonSolid           = "Solid historical performance with minor risk overhead."

	ConditionReduction  = "Mandatory 25% reduction in requested amount"
	ConditionPremium    = "Interest rate premium (+1.5% APR)"
	ConditionMonitoring = "Standard conditions with enhanced monitoring"
)

// Thresholds are the rate cut-offs of the decision table.
type Thresholds struct {
	MinNeighbors           int
	ApproveSuccessRate     float64
	ApproveMaxDefaultRate  float64
	ConditionalSuccessRate float64
	ConditionalMaxDefault  float64
	ReviewSuccessRate      float64
	ReductionDefaultRate   float64
	PremiumLateRate        float64
	ReductionFactor        float64
}

// DefaultThresholds returns the stock decision table.
func DefaultThresholds() Thresholds {
	return FromConfig(domain.DefaultPolicy())
}

// FromConfig builds thresholds from configuration.
func FromConfig(p domain.PolicyConfig) Thresholds {
	return Thresholds{
		MinNeighbors:           p.MinNeighbors,
		ApproveSuccessRate:     p.ApproveSuccessRate,
		ApproveMaxDefaultRate:  p.ApproveMaxDefaultRate,
		ConditionalSuccessRate: p.ConditionalSuccessRate,
		ConditionalMaxDefault:  p.ConditionalMaxDefault,
		ReviewSuccessRate:      p.ReviewSuccessRate,
		ReductionDefaultRate:   p.ReductionDefaultRate,
		PremiumLateRate:        p.PremiumLateRate,
		ReductionFactor:        0.75,
	}
}

// Policy applies the decision table.
type Policy struct {
	t Thresholds
}

// New creates a policy.
func New(t Thresholds) *Policy {
	if t.ReductionFactor == 0 {
		t.ReductionFactor = 0.75
	}
	return &Policy{t: t}
}

// Thresholds returns the active thresholds.
func (p *Policy) Thresholds() Thresholds {
	return p.t
}

// Decide returns the verdict for an evaluated application. The first
// matching row wins: thin cohort, fraud, then success-rate bands.
func (p *Policy) Decide(stats domain.CohortStatistics, a anomaly.Assessment, app *domain.ApplicationRecord) *domain.Decision {
	analysis := stats
	d := &domain.Decision{
		AnomalyScore: a.Score,
		TwinsFound:   a.Neighbors,
		Analysis:     &analysis,
	}

	if a.Insufficient || a.Neighbors < p.t.MinNeighbors {
		d.Verdict = domain.VerdictAnomalyDetected
		d.Action = domain.ActionManualReviewRequired
		d.Confidence = 0
		d.Reason = fmt.Sprintf("Only %d similar cases found (minimum %d required)", a.Neighbors, p.t.MinNeighbors)
		return d
	}

	if a.FraudSuspect {
		d.Verdict = domain.VerdictRejected
		d.Confidence = 1.0
		d.Reason = ReasonIdentityAnomaly
		d.IsFraudSuspect = true
		return d
	}

	requested := app.Amount()
	success := stats.SuccessRate
	d.Confidence = stats.AvgSimilarity

	switch {
	case success >= p.t.ApproveSuccessRate && stats.DefaultRate < p.t.ApproveMaxDefaultRate:
		d.Verdict = domain.VerdictApproved
		d.Reason = fmt.Sprintf("Exceptional %d%% success rate observed among similar financial profiles.", Percent(success))
		d.Conditions = []string{}
		d.RecommendedAmount = app.RequestedAmount

	case success >= p.t.ConditionalSuccessRate && stats.DefaultRate < p.t.ConditionalMaxDefault:
		d.Verdict = domain.VerdictApprovedWithConditions
		d.Reason = ReasonSolid
		recommended := requested
		if stats.DefaultRate > p.t.ReductionDefaultRate {
			d.Conditions = append(d.Conditions, ConditionReduction)
			recommended = decimal.NewFromFloat(requested).
				Mul(decimal.NewFromFloat(p.t.ReductionFactor)).
				Round(2).
				InexactFloat64()
		}
		if stats.LateRate > p.t.PremiumLateRate {
			d.Conditions = append(d.Conditions, ConditionPremium)
		}
		if len(d.Conditions) == 0 {
			d.Conditions = append(d.Conditions, ConditionMonitoring)
		}
		d.RecommendedAmount = &recommended

	case success >= p.t.ReviewSuccessRate:
		d.Verdict = domain.VerdictManualReview
		d.Reason = fmt.Sprintf("Success rate is %d%%. Performance data is within a neutral range requiring human oversight.", Percent(success))

	default:
		d.Verdict = domain.VerdictRejected
		d.Reason = fmt.Sprintf("Inadequate success likelihood (%d%%). Historical comparisons show significant default risk.", Percent(success))
	}
	return d
}

// Decide applies the default thresholds.
func Decide(stats domain.CohortStatistics, a anomaly.Assessment, app *domain.ApplicationRecord) *domain.Decision {
	return New(DefaultThresholds()).Decide(stats, a, app)
}

// Percent truncates a rate to a whole percentage.
func Percent(rate float64) int {
	return int(rate * 100)
}
