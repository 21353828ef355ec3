package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Run("AllPresent", func(t *testing.T) {
		app := &ApplicationRecord{
			RequestedAmount: Float(15000),
			AnnualIncome:    Float(60000),
			DTI:             Float(18.5),
			FICO:            Float(720),
		}
		if missing := app.Validate(); len(missing) != 0 {
			t.Errorf("expected no missing fields, got %v", missing)
		}
	})

	t.Run("ZeroIsPresent", func(t *testing.T) {
		app := &ApplicationRecord{
			RequestedAmount: Float(0),
			AnnualIncome:    Float(0),
			DTI:             Float(0),
			FICO:            Float(0),
		}
		if missing := app.Validate(); len(missing) != 0 {
			t.Errorf("expected zero values to count as present, got %v", missing)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		app := &ApplicationRecord{RequestedAmount: Float(1000)}
		missing := app.Validate()
		if len(missing) != 3 {
			t.Fatalf("expected 3 missing fields, got %v", missing)
		}
		if missing[0] != "annual_income_snapshot" {
			t.Errorf("expected annual_income_snapshot first, got %s", missing[0])
		}
	})
}

func TestFilterMatch(t *testing.T) {
	c := &HistoricalCase{
		ApplicationRecord: ApplicationRecord{RequestedAmount: Float(10000)},
		Outcome:           OutcomeSuccess,
	}

	tests := []struct {
		filter Filter
		want   bool
	}{
		{Filter{Field: "requested_amount", Op: OpGTE, Value: 10000}, true},
		{Filter{Field: "requested_amount", Op: OpGT, Value: 10000}, false},
		{Filter{Field: "requested_amount", Op: OpLTE, Value: 9999}, false},
		{Filter{Field: "requested_amount", Op: OpLT, Value: 10001}, true},
		{Filter{Field: "requested_amount", Op: OpEQ, Value: 10000}, true},
		{Filter{Field: "fico_snapshot", Op: OpGTE, Value: 0}, false},
		{Filter{Field: "outcome", Op: OpEQ, Text: "success"}, true},
		{Filter{Field: "outcome", Op: OpEQ, Text: "default"}, false},
		{Filter{Field: "grade", Op: OpEQ, Text: "B"}, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s%s%v%s", tt.filter.Field, tt.filter.Op, tt.filter.Value, tt.filter.Text), func(t *testing.T) {
			if got := tt.filter.Match(c); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFilterValidate(t *testing.T) {
	if err := (Filter{Field: "requested_amount", Op: OpGTE}).Validate(); err != nil {
		t.Errorf("expected valid filter, got %v", err)
	}
	err := (Filter{Field: "employment", Op: OpEQ}).Validate()
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for unknown field, got %v", err)
	}
	if err := (Filter{Field: "outcome", Op: OpEQ, Text: "success"}).Validate(); err != nil {
		t.Errorf("expected valid text filter, got %v", err)
	}
	err = (Filter{Field: "outcome", Op: OpGTE, Text: "success"}).Validate()
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for ordered text filter, got %v", err)
	}
	err = (Filter{Field: "requested_amount", Op: "$ne"}).Validate()
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for unknown operator, got %v", err)
	}
}

func TestEngineErrorIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("query: %w", NewUnavailableError("pgvector", cause))

	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected error to match ErrUnavailable")
	}
	if errors.Is(err, ErrNotReady) {
		t.Error("expected error not to match ErrNotReady")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to unwrap to its cause")
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Kind != KindUnavailable {
		t.Errorf("expected EngineError of kind unavailable, got %v", err)
	}
}
