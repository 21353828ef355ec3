package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// LoadResult is a batch of parsed cases.
type LoadResult struct {
	Cases   []*domain.HistoricalCase
	Skipped int
}

// LoadAccepted parses a LendingClub accepted-loans CSV. Limit <= 0 reads all rows.
func LoadAccepted(r io.Reader, limit int) (*LoadResult, error) {
	t, err := newTable(r)
	if err != nil {
		return nil, err
	}
	if !t.has("loan_amnt") {
		return nil, fmt.Errorf("not an accepted-loans file: missing loan_amnt column")
	}

	res := &LoadResult{}
	for row := 0; limit <= 0 || len(res.Cases) < limit; row++ {
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
		res.Cases = append(res.Cases, acceptedCase(t, row))
	}
	return res, nil
}

func acceptedCase(t *table, row int) *domain.HistoricalCase {
	issued := parseDate(t.get("issue_d"))
	earliest := parseDate(t.get("earliest_cr_line"))

	low, high := t.float("fico_range_low"), t.float("fico_range_high")
	var fico *float64
	switch {
	case low != nil && high != nil:
		fico = domain.Float((*low + *high) / 2)
	case low != nil:
		fico = low
	}

	c := &domain.HistoricalCase{
		ApplicationRecord: domain.ApplicationRecord{
			RequestedAmount:      t.float("loan_amnt"),
			LoanPurpose:          t.get("purpose"),
			Term:                 t.get("term"),
			Grade:                t.get("grade"),
			AnnualIncome:         t.float("annual_inc"),
			DTI:                  t.float("dti"),
			FICO:                 fico,
			RevolvingUtilization: t.float("revol_util"),
			OpenAccounts:         t.float("open_acc"),
			TotalAccounts:        t.float("total_acc"),
			Delinquencies2y:      t.float("delinq_2yrs"),
			Inquiries6m:          t.float("inq_last_6mths"),
			PublicRecords:        t.float("pub_rec"),
			ApplicantID:          ApplicantID(t.get("addr_state"), t.get("emp_length"), low),
			Employment:           t.get("emp_length"),
			State:                t.get("addr_state"),
		},
		ApplicationID:   applicationID("APP", issued, row),
		LoanStatus:      t.get("loan_status"),
		Outcome:         CategorizeOutcome(t.get("loan_status")),
		ApplicationDate: issued,
	}

	if !issued.IsZero() && !earliest.IsZero() {
		years := issued.Sub(earliest).Hours() / 24 / 365.25
		c.CreditHistoryLength = &years
	}

	income := domain.Value(c.AnnualIncome)
	if income > 0 {
		if installment := t.float("installment"); installment != nil {
			c.PaymentToIncomeRatio = domain.Float(round(*installment/(income/12), 4))
		}
		if c.RequestedAmount != nil {
			c.LoanToIncomeRatio = domain.Float(round(*c.RequestedAmount/income, 4))
		}
	}
	return c
}

// LoadRejected parses a LendingClub rejected-applications CSV.
func LoadRejected(r io.Reader, limit int) (*LoadResult, error) {
	t, err := newTable(r)
	if err != nil {
		return nil, err
	}
	if !t.has("Amount Requested") {
		return nil, fmt.Errorf("not a rejected-applications file: missing Amount Requested column")
	}

	res := &LoadResult{}
	for row := 0; limit <= 0 || len(res.Cases) < limit; row++ {
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

		applied := parseDate(t.get("Application Date"))
		risk := t.float("Risk_Score")
		dti := t.float("Debt-To-Income Ratio")
		if dti == nil {
			dti = domain.Float(0)
		}

		res.Cases = append(res.Cases, &domain.HistoricalCase{
			ApplicationRecord: domain.ApplicationRecord{
				RequestedAmount: t.float("Amount Requested"),
				LoanPurpose:     t.get("Loan Title"),
				DTI:             dti,
				FICO:            risk,
				PreviousLoans:   domain.Float(0),
				ApplicantID:     ApplicantID(t.get("State"), t.get("Employment Length"), risk),
				Employment:      t.get("Employment Length"),
				State:           t.get("State"),
			},
			ApplicationID:   applicationID("REJ", applied, row),
			LoanStatus:      "Rejected",
			Outcome:         domain.OutcomeRejected,
			ApplicationDate: applied,
		})
	}
	return res, nil
}

func applicationID(prefix string, date time.Time, row int) string {
	stamp := "UNKNOWN"
	if !date.IsZero() {
		stamp = date.Format("20060102")
	}
	return fmt.Sprintf("%s-%s-%d", prefix, stamp, row)
}
