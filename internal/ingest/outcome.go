// Package ingest loads historical credit cases into the corpus.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// CategorizeOutcome maps a loan status onto an outcome category.
func CategorizeOutcome(status string) domain.Outcome {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "":
		return domain.OutcomeUnknown
	case "fully paid", "current":
		return domain.OutcomeSuccess
	case "charged off", "default":
		return domain.OutcomeDefault
	case "late (31-120 days)", "late (16-30 days)":
		return domain.OutcomeLatePayments
	case "rejected":
		return domain.OutcomeRejected
	}
	return domain.OutcomeOther
}

// ApplicantID derives the anonymised applicant key shared by accepted and
// rejected rows: the first 16 hex chars of sha256("state|employment|fico").
func ApplicantID(state, employment string, fico *float64) string {
	if strings.TrimSpace(state) == "" {
		state = "XX"
	}
	if strings.TrimSpace(employment) == "" {
		employment = "Unknown"
	}
	score := "600"
	if fico != nil && !math.IsNaN(*fico) && *fico != 0 {
		score = formatScore(*fico)
	}

	sum := sha256.Sum256([]byte(state + "|" + employment + "|" + score))
	return hex.EncodeToString(sum[:])[:16]
}

// formatScore renders a score with at least one decimal, so 700 becomes "700.0".
func formatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
