package ingest

import (
	"math"
	"sort"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// FraudStdDev is the sample standard deviation of an applicant's accepted
// requested amounts above which all of its cases are marked fraud-suspect.
const FraudStdDev = 20000.0

// DeriveFlags sets the fraud-suspect, comeback-story and prior-loan fields
// across the whole batch. Rejected cases never carry the comeback flag and
// always have zero prior loans.
func DeriveFlags(cases []*domain.HistoricalCase) {
	type group struct {
		accepted []*domain.HistoricalCase
		rejected bool
	}
	groups := make(map[string]*group)
	for _, c := range cases {
		g := groups[c.ApplicantID]
		if g == nil {
			g = &group{}
			groups[c.ApplicantID] = g
		}
		if c.Outcome == domain.OutcomeRejected {
			g.rejected = true
			continue
		}
		g.accepted = append(g.accepted, c)
	}

	fraud := make(map[string]bool)
	for id, g := range groups {
		if sampleStdDev(g.accepted) > FraudStdDev {
			fraud[id] = true
		}

		sort.SliceStable(g.accepted, func(i, j int) bool {
			return before(g.accepted[i], g.accepted[j])
		})
		for n, c := range g.accepted {
			c.PreviousLoans = domain.Float(float64(n))
			c.IsComebackStory = g.rejected
		}
	}

	for _, c := range cases {
		c.IsFraudSuspect = fraud[c.ApplicantID]
		if c.Outcome == domain.OutcomeRejected {
			c.IsComebackStory = false
			c.PreviousLoans = domain.Float(0)
		}
	}
}

// before orders by application date with undated cases last.
func before(a, b *domain.HistoricalCase) bool {
	switch {
	case a.ApplicationDate.IsZero():
		return false
	case b.ApplicationDate.IsZero():
		return true
	}
	return a.ApplicationDate.Before(b.ApplicationDate)
}

func sampleStdDev(cases []*domain.HistoricalCase) float64 {
	var vals []float64
	for _, c := range cases {
		if c.RequestedAmount != nil {
			vals = append(vals, *c.RequestedAmount)
		}
	}
	if len(vals) < 2 {
		return 0
	}

	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(vals)-1))
}
