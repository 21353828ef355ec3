package domain

import "time"

// Verdict is the outcome of an evaluation.
type Verdict string

const (
	VerdictApproved               Verdict = "APPROVED"
	VerdictApprovedWithConditions Verdict = "APPROVED_WITH_CONDITIONS"
	VerdictManualReview           Verdict = "MANUAL_REVIEW"
	VerdictRejected               Verdict = "REJECTED"
	VerdictAnomalyDetected        Verdict = "ANOMALY_DETECTED"
)

// IsApproval reports whether the verdict approves the application.
func (v Verdict) IsApproval() bool {
	return v == VerdictApproved || v == VerdictApprovedWithConditions
}

// ActionManualReviewRequired accompanies ANOMALY_DETECTED verdicts.
const ActionManualReviewRequired = "MANUAL_REVIEW_REQUIRED"

// Explanation sources.
const (
	ExplanationTemplate = "template"
	ExplanationLLM      = "llm"
)

// TwinSummary is a compact view of one of the closest neighbours.
type TwinSummary struct {
	ApplicationID   string   `json:"application_id"`
	Similarity      float64  `json:"similarity"`
	Outcome         Outcome  `json:"outcome"`
	RequestedAmount *float64 `json:"requested_amount"`
	FICO            *float64 `json:"fico"`
	DTI             *float64 `json:"dti"`
}

// CohortStatistics summarises the outcomes of a neighbour set.
type CohortStatistics struct {
	TotalTwins    int           `json:"total_twins"`
	SuccessCount  int           `json:"success_count"`
	DefaultCount  int           `json:"default_count"`
	LateCount     int           `json:"late_count"`
	RejectedCount int           `json:"rejected_count"`
	SuccessRate   float64       `json:"success_rate"`
	DefaultRate   float64       `json:"default_rate"`
	LateRate      float64       `json:"late_rate"`
	AvgSimilarity float64       `json:"avg_similarity"`
	TopTwins      []TwinSummary `json:"top_twins"`
}

// Roadmap tells a rejected applicant what a successful twin looked like.
type Roadmap struct {
	TargetFICO float64 `json:"target_fico"`
	TargetDTI  float64 `json:"target_dti"`
	Message    string  `json:"message"`
}

// AlternativeOffer proposes a smaller amount that similar applicants repaid.
type AlternativeOffer struct {
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`
	Message string  `json:"message"`
}

// OfferSaferAmount is the only alternative offer type.
const OfferSaferAmount = "SAFER_AMOUNT"

// Nudge is a product suggestion attached to approvals.
type Nudge struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Flag severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityAlert   = "alert"
)

// Flag is an applicant-level anomaly raised by a flag rule.
type Flag struct {
	RuleID string `json:"rule_id,omitempty"`
	Type   string `json:"type"`
	Text   string `json:"text"`
}

// Decision is the full result of evaluating an application.
type Decision struct {
	ID                string            `json:"id"`
	Verdict           Verdict           `json:"decision"`
	Confidence        float64           `json:"confidence"`
	Reason            string            `json:"reason"`
	Action            string            `json:"action,omitempty"`
	Conditions        []string          `json:"conditions,omitempty"`
	RecommendedAmount *float64          `json:"recommended_amount,omitempty"`
	Roadmap           *Roadmap          `json:"roadmap,omitempty"`
	AlternativeOffer  *AlternativeOffer `json:"alternative_offer,omitempty"`
	Nudge             *Nudge            `json:"nudge,omitempty"`
	IsFraudSuspect    bool              `json:"is_fraud_suspect"`
	AnomalyScore      float64           `json:"anomaly_score"`
	TwinsFound        int               `json:"twins_found"`
	Flags             []Flag            `json:"flags,omitempty"`
	Analysis          *CohortStatistics `json:"analysis,omitempty"`
	Explanation       string            `json:"explanation"`
	ExplanationSource string            `json:"explanation_source"`
	ApplicantID       string            `json:"applicant_id,omitempty"`
	EvaluatedAt       time.Time         `json:"evaluated_at"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

// DecisionRecord is a persisted decision together with its application.
type DecisionRecord struct {
	Decision    *Decision          `json:"decision"`
	Application *ApplicationRecord `json:"application"`
	CreatedAt   time.Time          `json:"created_at"`
}
