// Package cohort summarises the outcomes of a neighbour set.
package cohort

import (
	"math"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// TopTwins is the number of neighbours summarised in the statistics.
const TopTwins = 5

// Analyze computes outcome counts, rates and mean similarity.
// Rates are independent count/total ratios; unknown and other outcomes are
// counted in the total only.
func Analyze(neighbors []domain.Neighbor) domain.CohortStatistics {
	stats := domain.CohortStatistics{TopTwins: []domain.TwinSummary{}}
	total := len(neighbors)
	if total == 0 {
		return stats
	}

	var scoreSum float64
	for _, n := range neighbors {
		scoreSum += n.Score
		if n.Case == nil {
			continue
		}
		switch n.Case.Outcome {
		case domain.OutcomeSuccess:
			stats.SuccessCount++
		case domain.OutcomeDefault:
			stats.DefaultCount++
		case domain.OutcomeLatePayments:
			stats.LateCount++
		case domain.OutcomeRejected:
			stats.RejectedCount++
		}
	}

	stats.TotalTwins = total
	stats.SuccessRate = float64(stats.SuccessCount) / float64(total)
	stats.DefaultRate = float64(stats.DefaultCount) / float64(total)
	stats.LateRate = float64(stats.LateCount) / float64(total)
	stats.AvgSimilarity = scoreSum / float64(total)

	for _, n := range neighbors[:min(TopTwins, total)] {
		summary := domain.TwinSummary{
			ApplicationID: n.ID,
			Similarity:    round(n.Score, 3),
		}
		if n.Case != nil {
			if n.Case.ApplicationID != "" {
				summary.ApplicationID = n.Case.ApplicationID
			}
			summary.Outcome = n.Case.Outcome
			summary.RequestedAmount = n.Case.RequestedAmount
			summary.FICO = n.Case.FICO
			summary.DTI = n.Case.DTI
		}
		stats.TopTwins = append(stats.TopTwins, summary)
	}
	return stats
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
