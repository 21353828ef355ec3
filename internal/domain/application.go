package domain

import (
	"strings"
	"time"
)

// Outcome is the realised outcome of a historical application.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeDefault      Outcome = "default"
	OutcomeLatePayments Outcome = "late_payments"
	OutcomeRejected     Outcome = "rejected"
	OutcomeUnknown      Outcome = "unknown"
	OutcomeOther        Outcome = "other"
)

// Accepted reports whether the outcome belongs to a funded loan.
func (o Outcome) Accepted() bool {
	return o != OutcomeRejected
}

// ApplicationRecord is the feature-bearing description of a credit application.
// Numeric fields are optional; the encoder resolves absent values.
type ApplicationRecord struct {
	RequestedAmount      *float64 `json:"requested_amount,omitempty"`
	LoanPurpose          string   `json:"loan_purpose,omitempty"`
	Term                 string   `json:"term,omitempty"`
	Grade                string   `json:"grade,omitempty"`
	AnnualIncome         *float64 `json:"annual_income_snapshot,omitempty"`
	DTI                  *float64 `json:"dti_snapshot,omitempty"`
	FICO                 *float64 `json:"fico_snapshot,omitempty"`
	CreditHistoryLength  *float64 `json:"credit_history_length_snapshot,omitempty"`
	RevolvingUtilization *float64 `json:"revolving_utilization_snapshot,omitempty"`
	PreviousLoans        *float64 `json:"nb_previous_loans,omitempty"`
	OpenAccounts         *float64 `json:"open_accounts,omitempty"`
	TotalAccounts        *float64 `json:"total_accounts,omitempty"`
	Delinquencies2y      *float64 `json:"delinquencies_2y,omitempty"`
	Inquiries6m          *float64 `json:"inquiries_6m,omitempty"`
	PublicRecords        *float64 `json:"public_records,omitempty"`
	PaymentToIncomeRatio *float64 `json:"payment_to_income_ratio,omitempty"`
	LoanToIncomeRatio    *float64 `json:"loan_to_income_ratio,omitempty"`

	// Applicant profile, used by flag rules and ingestion
	ApplicantID string   `json:"applicant_id,omitempty"`
	Employment  string   `json:"employment,omitempty"`
	Sector      string   `json:"sector,omitempty"`
	Region      string   `json:"region,omitempty"`
	State       string   `json:"state,omitempty"`
	Age         *float64 `json:"age,omitempty"`
	Assets      *float64 `json:"assets,omitempty"`
}

// RequiredFields lists the fields an evaluation request must carry.
var RequiredFields = []string{
	"requested_amount",
	"annual_income_snapshot",
	"dti_snapshot",
	"fico_snapshot",
}

// Validate returns the names of missing required fields.
func (a *ApplicationRecord) Validate() []string {
	if a == nil {
		return append([]string(nil), RequiredFields...)
	}
	var missing []string
	if a.RequestedAmount == nil {
		missing = append(missing, "requested_amount")
	}
	if a.AnnualIncome == nil {
		missing = append(missing, "annual_income_snapshot")
	}
	if a.DTI == nil {
		missing = append(missing, "dti_snapshot")
	}
	if a.FICO == nil {
		missing = append(missing, "fico_snapshot")
	}
	return missing
}

// Amount returns the requested amount or zero.
func (a *ApplicationRecord) Amount() float64 {
	return Value(a.RequestedAmount)
}

// HistoricalCase is an application with a realised outcome.
// Ingestion-time defaults are applied once; readers never re-default.
type HistoricalCase struct {
	ApplicationRecord

	ApplicationID   string    `json:"application_id"`
	Outcome         Outcome   `json:"outcome"`
	LoanStatus      string    `json:"loan_status,omitempty"`
	DaysLate        int       `json:"days_late"`
	ApplicationDate time.Time `json:"application_date"`
	IsFraudSuspect  bool      `json:"is_fraud_suspect"`
	IsComebackStory bool      `json:"is_comeback_story"`
}

// FilterableFields is the closed set of fields neighbour filters may reference.
var FilterableFields = map[string]bool{
	"requested_amount":               true,
	"annual_income_snapshot":         true,
	"dti_snapshot":                   true,
	"fico_snapshot":                  true,
	"credit_history_length_snapshot": true,
	"revolving_utilization_snapshot": true,
	"nb_previous_loans":              true,
	"days_late":                      true,
}

// TextFilterFields is the closed set of string fields filters may match exactly.
var TextFilterFields = map[string]bool{
	"outcome":      true,
	"loan_purpose": true,
	"grade":        true,
	"term":         true,
}

// FieldText returns the value of a text filter field. Empty values are absent.
func (c *HistoricalCase) FieldText(name string) (string, bool) {
	var s string
	switch name {
	case "outcome":
		s = string(c.Outcome)
	case "loan_purpose":
		s = c.LoanPurpose
	case "grade":
		s = c.Grade
	case "term":
		s = c.Term
	default:
		return "", false
	}
	return s, s != ""
}

// FieldValue returns the numeric value of a filterable field.
func (c *HistoricalCase) FieldValue(name string) (float64, bool) {
	var p *float64
	switch name {
	case "requested_amount":
		p = c.RequestedAmount
	case "annual_income_snapshot":
		p = c.AnnualIncome
	case "dti_snapshot":
		p = c.DTI
	case "fico_snapshot":
		p = c.FICO
	case "credit_history_length_snapshot":
		p = c.CreditHistoryLength
	case "revolving_utilization_snapshot":
		p = c.RevolvingUtilization
	case "nb_previous_loans":
		p = c.PreviousLoans
	case "days_late":
		return float64(c.DaysLate), true
	default:
		return 0, false
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences p, returning zero for nil.
func Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// ValueOr dereferences p, returning def for nil.
func ValueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// NormalizeKey lowercases s and maps '-' and spaces to '_'.
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
