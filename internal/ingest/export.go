package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// ExportColumns is the header of a corpus export.
var ExportColumns = []string{
	"application_id", "applicant_id", "application_date", "outcome", "loan_status", "days_late",
	"requested_amount", "loan_purpose", "term", "grade",
	"annual_income_snapshot", "dti_snapshot", "fico_snapshot",
	"credit_history_length_snapshot", "revolving_utilization_snapshot",
	"nb_previous_loans", "open_accounts", "total_accounts",
	"delinquencies_2y", "inquiries_6m", "public_records",
	"payment_to_income_ratio", "loan_to_income_ratio",
	"employment", "sector", "region", "state", "age", "assets",
	"is_fraud_suspect", "is_comeback_story",
}

// WriteCSV writes cases in export format.
func WriteCSV(w io.Writer, cases []*domain.HistoricalCase) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, c := range cases {
		date := ""
		if !c.ApplicationDate.IsZero() {
			date = c.ApplicationDate.Format("2006-01-02")
		}
		a := c.ApplicationRecord
		record := []string{
			c.ApplicationID, a.ApplicantID, date, string(c.Outcome), c.LoanStatus, strconv.Itoa(c.DaysLate),
			num(a.RequestedAmount), a.LoanPurpose, a.Term, a.Grade,
			num(a.AnnualIncome), num(a.DTI), num(a.FICO),
			num(a.CreditHistoryLength), num(a.RevolvingUtilization),
			num(a.PreviousLoans), num(a.OpenAccounts), num(a.TotalAccounts),
			num(a.Delinquencies2y), num(a.Inquiries6m), num(a.PublicRecords),
			num(a.PaymentToIncomeRatio), num(a.LoanToIncomeRatio),
			a.Employment, a.Sector, a.Region, a.State, num(a.Age), num(a.Assets),
			strconv.FormatBool(c.IsFraudSuspect), strconv.FormatBool(c.IsComebackStory),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write case %s: %w", c.ApplicationID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func num(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// LoadExport reads a corpus export back into cases. Flags are kept as written.
func LoadExport(r io.Reader) (*LoadResult, error) {
	t, err := newTable(r)
	if err != nil {
		return nil, err
	}
	if !t.has("application_id") || !t.has("outcome") {
		return nil, fmt.Errorf("not a corpus export: missing application_id or outcome column")
	}

	res := &LoadResult{}
	for {
		ok, skip, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if skip || t.get("application_id") == "" {
			res.Skipped++
			continue
		}

		daysLate, _ := strconv.Atoi(t.get("days_late"))
		fraud, _ := strconv.ParseBool(t.get("is_fraud_suspect"))
		comeback, _ := strconv.ParseBool(t.get("is_comeback_story"))
		date, _ := time.Parse("2006-01-02", t.get("application_date"))

		res.Cases = append(res.Cases, &domain.HistoricalCase{
			ApplicationRecord: domain.ApplicationRecord{
				RequestedAmount:      t.float("requested_amount"),
				LoanPurpose:          t.get("loan_purpose"),
				Term:                 t.get("term"),
				Grade:                t.get("grade"),
				AnnualIncome:         t.float("annual_income_snapshot"),
				DTI:                  t.float("dti_snapshot"),
				FICO:                 t.float("fico_snapshot"),
				CreditHistoryLength:  t.float("credit_history_length_snapshot"),
				RevolvingUtilization: t.float("revolving_utilization_snapshot"),
				PreviousLoans:        t.float("nb_previous_loans"),
				OpenAccounts:         t.float("open_accounts"),
				TotalAccounts:        t.float("total_accounts"),
				Delinquencies2y:      t.float("delinquencies_2y"),
				Inquiries6m:          t.float("inquiries_6m"),
				PublicRecords:        t.float("public_records"),
				PaymentToIncomeRatio: t.float("payment_to_income_ratio"),
				LoanToIncomeRatio:    t.float("loan_to_income_ratio"),
				ApplicantID:          t.get("applicant_id"),
				Employment:           t.get("employment"),
				Sector:               t.get("sector"),
				Region:               t.get("region"),
				State:                t.get("state"),
				Age:                  t.float("age"),
				Assets:               t.float("assets"),
			},
			ApplicationID:   t.get("application_id"),
			Outcome:         domain.Outcome(t.get("outcome")),
			LoanStatus:      t.get("loan_status"),
			DaysLate:        daysLate,
			ApplicationDate: date,
			IsFraudSuspect:  fraud,
			IsComebackStory: comeback,
		})
	}
	return res, nil
}
