// Package narrative turns decisions into customer-facing explanations.
package narrative

import (
	"fmt"

	"github.com/opensource-finance/credittwin/internal/domain"
)

const (
	templateConditional = "We've approved your request with tailored conditions to ensure your success. " +
		"Applicants with your profile have a solid %.0f%% success rate, " +
		"though we've identified moderate risks that require slight adjustments to the loan terms. " +
		"This approach helps balance your current needs with long-term financial safety."

	templateRejected = "After comparing your application to thousands of 'financial twins,' we cannot approve your request today. " +
		"The historical data for similar profiles indicates a higher risk of repayment challenges. " +
		"We recommend focusing on your debt-to-income ratio or credit score to improve your profile for future requests."

	templateAnomaly = "Your unique financial request has been flagged for prioritized manual review by our experts. " +
		"Because we found very few similar historical cases, we want to ensure a human specialist " +
		"personally evaluates your situation rather than relying on automated matching. " +
		"This ensures you receive a fair and comprehensive assessment."

	templateReview = "The engine has categorized your request for manual underwriting because the outcomes " +
		"of your 'financial twins' were inconsistent. Since %.0f%% of similar cases " +
		"succeeded while others faced challenges, a human specialist will now perform a targeted " +
		"final check to ensure we reach the most fair and accurate decision for you."

	templateFallback = "Your application is being analyzed using our financial twin matching engine to ensure a fair and data-driven decision."
)

// Template renders the fixed explanation for a decision's verdict.
func Template(d *domain.Decision) string {
	var stats domain.CohortStatistics
	if d.Analysis != nil {
		stats = *d.Analysis
	}
	successPct := stats.SuccessRate * 100

	switch d.Verdict {
	case domain.VerdictApproved:
		msg := fmt.Sprintf("Your application shows a very strong alignment with successful historical cases. "+
			"With a %.0f%% success rate among your 'financial twins,' we have high "+
			"confidence in this approval.", successPct)
		if stats.RejectedCount > 0 {
			msg += fmt.Sprintf(" Only %d out of %d similar matches were previously rejected.", stats.RejectedCount, stats.TotalTwins)
		}
		return msg
	case domain.VerdictApprovedWithConditions:
		return fmt.Sprintf(templateConditional, successPct)
	case domain.VerdictRejected:
		return templateRejected
	case domain.VerdictAnomalyDetected:
		return templateAnomaly
	case domain.VerdictManualReview:
		return fmt.Sprintf(templateReview, successPct)
	}
	return templateFallback
}
