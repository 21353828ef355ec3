package ingest

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// DefaultSyntheticCount is the corpus size used by reset.
const DefaultSyntheticCount = 1000

var tenures = []int{12, 24, 36, 48, 60, 72}

// Generator produces synthetic historical cases. Equal seeds yield equal corpora.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a seeded generator.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// between returns a uniform integer in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *Generator) pick(options []string) string {
	return options[g.rng.Intn(len(options))]
}

// Generate returns n cases numbered LOAN_00001 onwards.
func (g *Generator) Generate(n int) []*domain.HistoricalCase {
	cases := make([]*domain.HistoricalCase, n)
	for i := range cases {
		cases[i] = g.Case(i + 1)
	}
	return cases
}

// Case generates one case. The default probability grows with weak credit
// score, high debt and loan ratios, delinquencies and utilisation.
func (g *Generator) Case(id int) *domain.HistoricalCase {
	score := g.between(450, 850)
	income := g.between(20000, 200000)
	age := g.between(22, 72)
	amount := g.between(5000, income*2)
	debt := int(g.rng.Float64() * 0.5 * float64(income))
	assets := int(g.rng.Float64() * 3 * float64(income))
	tenure := tenures[g.rng.Intn(len(tenures))]

	var delinquencies int
	if score > 700 {
		delinquencies = g.between(0, 1)
	} else {
		delinquencies = g.between(0, 4)
	}
	utilization := g.between(5, 85)
	history := g.between(1, 20)

	dti := float64(debt) / float64(income)
	lti := float64(amount) / float64(income)

	p := 0.1
	switch {
	case score < 600:
		p += 0.25
	case score < 680:
		p += 0.1
	}
	if dti > 0.4 {
		p += 0.15
	}
	if lti > 1.5 {
		p += 0.1
	}
	if delinquencies > 2 {
		p += 0.2
	}
	if utilization > 70 {
		p += 0.1
	}

	outcome := domain.OutcomeSuccess
	daysLate := 0
	if g.rng.Float64() < p {
		outcome = domain.OutcomeDefault
		daysLate = g.between(30, 210)
	} else if g.rng.Float64() < 0.2 {
		daysLate = g.between(1, 29)
	}

	return &domain.HistoricalCase{
		ApplicationRecord: domain.ApplicationRecord{
			RequestedAmount:      domain.Float(float64(amount)),
			LoanPurpose:          g.pick(Purposes),
			Term:                 strconv.Itoa(tenure) + " months",
			AnnualIncome:         domain.Float(float64(income)),
			DTI:                  domain.Float(round(dti*100, 2)),
			FICO:                 domain.Float(float64(score)),
			CreditHistoryLength:  domain.Float(float64(history)),
			RevolvingUtilization: domain.Float(float64(utilization)),
			Delinquencies2y:      domain.Float(float64(delinquencies)),
			LoanToIncomeRatio:    domain.Float(round(lti, 4)),
			ApplicantID:          fmt.Sprintf("BRW_%05d", g.between(1, 100000)),
			Employment:           g.pick(Employment),
			Sector:               g.pick(Sectors),
			Region:               g.pick(Regions),
			Age:                  domain.Float(float64(age)),
			Assets:               domain.Float(float64(assets)),
		},
		ApplicationID: fmt.Sprintf("LOAN_%05d", id),
		Outcome:       outcome,
		LoanStatus:    loanStatus(outcome),
		DaysLate:      daysLate,
	}
}
