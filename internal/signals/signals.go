// Package signals attaches secondary guidance to a decision: an improvement
// roadmap and a safer amount for rejections, and an upsell nudge for approvals.
package signals

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/credittwin/internal/domain"
)

const (
	defaultTargetFICO = 700.0
	defaultTargetDTI  = 20.0

	// saferAmountRatio is the share of the request below which a safer amount is offered
	saferAmountRatio = 0.8

	NudgeTitle   = "Build Your Legacy"
	NudgeMessage = "80% of clients who started with this loan successfully upgraded to our Home Improvement line within 18 months."
)

// Apply enriches a decision in place. It runs once, while the decision is
// built; the fraud flag is never touched here.
func Apply(d *domain.Decision, neighbors []domain.Neighbor, app *domain.ApplicationRecord) {
	switch {
	case d.Verdict == domain.VerdictRejected && !d.IsFraudSuspect:
		d.Roadmap = Roadmap(neighbors)
		d.AlternativeOffer = AlternativeOffer(neighbors, app.Amount())
	case d.Verdict.IsApproval():
		d.Nudge = Nudge(app)
	}
}

// Roadmap describes the first comeback-story neighbour, or nil if none.
func Roadmap(neighbors []domain.Neighbor) *domain.Roadmap {
	for _, n := range neighbors {
		if n.Case == nil || !n.Case.IsComebackStory {
			continue
		}
		fico := domain.ValueOr(n.Case.FICO, defaultTargetFICO)
		dti := decimal.NewFromFloat(domain.ValueOr(n.Case.DTI, defaultTargetDTI)).Round(1).InexactFloat64()
		return &domain.Roadmap{
			TargetFICO: fico,
			TargetDTI:  dti,
			Message: fmt.Sprintf(
				"We found profiles identical to yours that were successful after improving their FICO to %d+ and lowering DTI to %s%%.",
				int(fico), strconv.FormatFloat(dti, 'f', -1, 64)),
		}
	}
	return nil
}

// AlternativeOffer proposes the mean amount repaid by successful neighbours
// when it is well below the request.
func AlternativeOffer(neighbors []domain.Neighbor, requested float64) *domain.AlternativeOffer {
	var (
		sum   float64
		count int
	)
	for _, n := range neighbors {
		if n.Case == nil || n.Case.Outcome != domain.OutcomeSuccess {
			continue
		}
		sum += domain.Value(n.Case.RequestedAmount)
		count++
	}
	if count == 0 {
		return nil
	}

	mean := sum / float64(count)
	if mean >= requested*saferAmountRatio {
		return nil
	}

	return &domain.AlternativeOffer{
		Type:   domain.OfferSaferAmount,
		Amount: RoundHundred(mean),
		Message: fmt.Sprintf(
			"While your current request is high, your financial twins were highly successful with loans around $%s.",
			Thousands(int64(mean))),
	}
}

// Nudge returns the first-loan upsell for applicants without prior loans.
func Nudge(app *domain.ApplicationRecord) *domain.Nudge {
	if app != nil && domain.Value(app.PreviousLoans) != 0 {
		return nil
	}
	return &domain.Nudge{Title: NudgeTitle, Message: NudgeMessage}
}

// RoundHundred rounds an amount to the nearest hundred, halves to even.
func RoundHundred(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(-2).InexactFloat64()
}

// Thousands formats n with comma separators.
func Thousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
