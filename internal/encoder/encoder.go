// Package encoder maps application records onto fixed-length feature vectors.
package encoder

import (
	"math"
	"strings"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// DefaultFICO is used when the FICO score is absent or non-positive.
const DefaultFICO = 650.0

const logScale = 15.0

var gradeScores = map[string]float64{
	"A": 1.0,
	"B": 0.85,
	"C": 0.70,
	"D": 0.55,
	"E": 0.40,
	"F": 0.25,
	"G": 0.10,
}

// Purposes holds the one-hot purpose categories in vector order.
var Purposes = []string{
	"debt_consolidation",
	"credit_card",
	"home_improvement",
	"other",
	"major_purchase",
}

// Encode returns the feature vector for an application.
// It never fails: absent values resolve to documented defaults.
func Encode(app *domain.ApplicationRecord) []float64 {
	if app == nil {
		app = &domain.ApplicationRecord{}
	}

	fico := domain.Value(app.FICO)
	if app.FICO == nil || fico <= 0 {
		fico = DefaultFICO
	}

	v := make([]float64, 0, domain.Dimension)
	v = append(v,
		// log-scaled amounts are left unclamped
		math.Log1p(nonNeg(app.RequestedAmount))/logScale,
		math.Log1p(nonNeg(app.AnnualIncome))/logScale,

		ratio(app.DTI, 100),
		ratio(app.PaymentToIncomeRatio, 1),
		ratio(app.LoanToIncomeRatio, 1),
		ratio(app.RevolvingUtilization, 100),

		fico/850,

		ratio(app.CreditHistoryLength, 50),
		ratio(app.PreviousLoans, 10),
		ratio(app.OpenAccounts, 30),
		ratio(app.TotalAccounts, 50),

		ratio(app.Delinquencies2y, 10),
		ratio(app.Inquiries6m, 10),
		ratio(app.PublicRecords, 5),
	)

	term := strings.TrimSpace(app.Term)
	v = append(v, oneHot(term == "36 months"), oneHot(term == "60 months"))
	v = append(v, GradeScore(app.Grade))

	purpose := domain.NormalizeKey(app.LoanPurpose)
	for _, p := range Purposes {
		v = append(v, oneHot(purpose == p))
	}

	for len(v) < domain.Dimension {
		v = append(v, 0)
	}
	return v[:domain.Dimension]
}

// GradeScore maps a credit grade A..G to [0.1, 1]; unknown grades score 0.5.
func GradeScore(grade string) float64 {
	if s, ok := gradeScores[strings.ToUpper(strings.TrimSpace(grade))]; ok {
		return s
	}
	return 0.5
}

func nonNeg(p *float64) float64 {
	if p == nil || *p < 0 || math.IsNaN(*p) {
		return 0
	}
	return *p
}

func ratio(p *float64, scale float64) float64 {
	return math.Min(nonNeg(p)/scale, 1)
}

func oneHot(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
