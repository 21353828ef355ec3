package rules

import "github.com/opensource-finance/credittwin/internal/domain"

// BuiltinRules returns the stock applicant flag rules. They are seeded into
// the repository on first start and can be edited or disabled there.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "high-income-low-score",
			Name:        "High Income, Low Score",
			Description: "High income paired with a poor credit score",
			Version:     "1.0.0",
			Expression:  "income > 150000.0 && credit_score < 600.0",
			Severity:    domain.SeverityWarning,
			Message:     "High income but low credit score - unusual combination",
			Enabled:     true,
		},
		{
			ID:          "thin-file-large-loan",
			Name:        "Large Loan, Thin File",
			Description: "Loan above twice the annual income with under three years of history",
			Version:     "1.0.0",
			Expression:  "loan_amount > income * 2.0 && history_length < 3.0",
			Severity:    domain.SeverityWarning,
			Message:     "Large loan request with thin credit history",
			Enabled:     true,
		},
		{
			ID:          "high-utilization-high-assets",
			Name:        "High Utilization, High Assets",
			Description: "Revolving utilization above 80% despite significant assets",
			Version:     "1.0.0",
			Expression:  "utilization > 80.0 && assets > 500000.0",
			Severity:    domain.SeverityInfo,
			Message:     "High utilization despite significant assets",
			Enabled:     true,
		},
		{
			ID:          "delinquent-good-score",
			Name:        "Delinquencies With Good Score",
			Description: "Several recent delinquencies on a strong credit score",
			Version:     "1.0.0",
			Expression:  "delinquencies > 3.0 && credit_score > 700.0",
			Severity:    domain.SeverityWarning,
			Message:     "Recent delinquencies inconsistent with credit score",
			Enabled:     true,
		},
		{
			ID:              "high-dti",
			Name:            "High Debt-to-Income",
			Description:     "Debt-to-income ratio above 50%",
			Version:         "1.0.0",
			Expression:      "debt_ratio > 0.5",
			ValueExpression: "debt_ratio * 100.0",
			Severity:        domain.SeverityAlert,
			Message:         "High debt-to-income ratio: {value}%",
			Enabled:         true,
		},
		{
			ID:          "application-velocity",
			Name:        "Application Velocity",
			Description: "Applicant evaluated repeatedly within the velocity window",
			Version:     "1.0.0",
			Expression:  "recent_applications > 3",
			Severity:    domain.SeverityWarning,
			Message:     "Multiple applications submitted in a short period",
			Enabled:     true,
		},
	}
}
