package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// ColumnMapping names the source column for each case attribute.
// Empty entries fall back to defaults.
type ColumnMapping struct {
	Age         string `json:"age" yaml:"age"`
	CreditScore string `json:"credit_score" yaml:"credit_score"`
	Income      string `json:"income" yaml:"income"`
	Debt        string `json:"debt,omitempty" yaml:"debt,omitempty"`
	Assets      string `json:"assets,omitempty" yaml:"assets,omitempty"`
	LoanAmount  string `json:"loan_amount" yaml:"loan_amount"`
	Tenure      string `json:"tenure,omitempty" yaml:"tenure,omitempty"`
	Employment  string `json:"employment,omitempty" yaml:"employment,omitempty"`
	Sector      string `json:"sector,omitempty" yaml:"sector,omitempty"`
	Purpose     string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Region      string `json:"region,omitempty" yaml:"region,omitempty"`
	Outcome     string `json:"outcome" yaml:"outcome"`
	DaysLate    string `json:"days_late,omitempty" yaml:"days_late,omitempty"`
}

// DefaultMapping maps every attribute to the column of the same name,
// matching the import template.
func DefaultMapping() ColumnMapping {
	return ColumnMapping{
		Age:         "age",
		CreditScore: "credit_score",
		Income:      "income",
		Debt:        "debt",
		Assets:      "assets",
		LoanAmount:  "loan_amount",
		Tenure:      "tenure",
		Employment:  "employment",
		Sector:      "sector",
		Purpose:     "purpose",
		Region:      "region",
		Outcome:     "outcome",
		DaysLate:    "days_late",
	}
}

// Missing returns the required attributes that are not mapped.
func (m ColumnMapping) Missing() []string {
	var missing []string
	for _, f := range []struct{ name, col string }{
		{"age", m.Age},
		{"credit_score", m.CreditScore},
		{"income", m.Income},
		{"loan_amount", m.LoanAmount},
		{"outcome", m.Outcome},
	} {
		if strings.TrimSpace(f.col) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

var defaultTokens = []string{"default", "charged", "late", "bad", "1", "true"}

// LoadMapped converts a generic CSV into cases through the mapping.
// Rows that cannot be read are skipped and counted.
func LoadMapped(r io.Reader, m ColumnMapping) (*LoadResult, error) {
	if missing := m.Missing(); len(missing) > 0 {
		return nil, domain.NewValidationError("unmapped required fields: "+strings.Join(missing, ", "), nil)
	}

	t, err := newTable(r)
	if err != nil {
		return nil, err
	}
	for _, col := range []string{m.Age, m.CreditScore, m.Income, m.LoanAmount, m.Outcome} {
		if !t.has(col) {
			return nil, domain.NewValidationError(fmt.Sprintf("column %q not found", col), nil)
		}
	}

	res := &LoadResult{}
	for idx := 0; ; idx++ {
		ok, skip, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if skip {
			res.Skipped++
			continue
		}
		res.Cases = append(res.Cases, mappedCase(t, m, idx))
	}
	return res, nil
}

func mappedCase(t *table, m ColumnMapping, idx int) *domain.HistoricalCase {
	intOr := func(col string, def int) int {
		if v := parseFloat(t.get(col)); v != nil {
			return int(math.Trunc(*v))
		}
		return def
	}
	floatOr := func(col string, def float64) float64 {
		if v := parseFloat(t.get(col)); v != nil {
			return *v
		}
		return def
	}
	category := func(col string, options []string, def string) string {
		if col == "" {
			return def
		}
		return Normalize(t.get(col), options)
	}

	outcome := domain.OutcomeSuccess
	status := strings.ToLower(t.get(m.Outcome))
	for _, tok := range defaultTokens {
		if strings.Contains(status, tok) {
			outcome = domain.OutcomeDefault
			break
		}
	}

	age := min(100, max(18, intOr(m.Age, 35)))
	score := min(850, max(300, intOr(m.CreditScore, 650)))
	income := max(0, floatOr(m.Income, 50000))
	amount := max(0, floatOr(m.LoanAmount, 10000))

	var debt, assets float64
	if m.Debt != "" {
		debt = max(0, floatOr(m.Debt, 0))
	}
	if m.Assets != "" {
		assets = max(0, floatOr(m.Assets, 0))
	}
	tenure := 36
	if m.Tenure != "" {
		tenure = intOr(m.Tenure, 36)
	}

	daysLate := 0
	switch {
	case m.DaysLate != "":
		daysLate = intOr(m.DaysLate, 0)
	case outcome == domain.OutcomeDefault:
		daysLate = 60
	}

	c := &domain.HistoricalCase{
		ApplicationRecord: domain.ApplicationRecord{
			RequestedAmount: domain.Float(amount),
			LoanPurpose:     category(m.Purpose, Purposes, "personal"),
			Term:            strconv.Itoa(tenure) + " months",
			AnnualIncome:    domain.Float(income),
			DTI:             domain.Float(debtRatio(debt, income)),
			FICO:            domain.Float(float64(score)),
			ApplicantID:     fmt.Sprintf("BRW_%06d", idx+1),
			Employment:      category(m.Employment, Employment, "full-time"),
			Sector:          category(m.Sector, Sectors, "other"),
			Region:          category(m.Region, Regions, "northeast"),
			Age:             domain.Float(float64(age)),
			Assets:          domain.Float(assets),
		},
		ApplicationID: fmt.Sprintf("IMPORT_%06d", idx+1),
		Outcome:       outcome,
		LoanStatus:    loanStatus(outcome),
		DaysLate:      daysLate,
	}
	if income > 0 {
		c.LoanToIncomeRatio = domain.Float(round(amount/income, 4))
	}
	return c
}

// debtRatio expresses debt as a percentage of income.
func debtRatio(debt, income float64) float64 {
	if income <= 0 {
		return 0
	}
	return round(debt/income*100, 2)
}

func loanStatus(o domain.Outcome) string {
	if o == domain.OutcomeDefault {
		return "Charged Off"
	}
	return "Fully Paid"
}

// WriteTemplate writes the import template with three example rows.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"age", "credit_score", "income", "loan_amount", "debt", "assets", "tenure", "employment", "sector", "purpose", "region", "outcome", "days_late"},
		{"35", "720", "75000", "25000", "15000", "120000", "36", "full-time", "technology", "home", "northeast", "REPAID", "0"},
		{"42", "650", "55000", "15000", "25000", "80000", "24", "self-employed", "retail", "personal", "west", "DEFAULTED", "45"},
		{"28", "780", "95000", "40000", "10000", "200000", "48", "full-time", "healthcare", "auto", "southeast", "REPAID", "0"},
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}
