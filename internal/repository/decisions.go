package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// SaveDecision stores a decision together with the application it judged.
func (r *SQLRepository) SaveDecision(ctx context.Context, rec *domain.DecisionRecord) error {
	if rec == nil || rec.Decision == nil || rec.Decision.ID == "" {
		return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}

	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	application, err := json.Marshal(rec.Application)
	if err != nil {
		return fmt.Errorf("failed to encode application: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO decisions (
			id, applicant_id, verdict, confidence, decision, application, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.Decision.ID, rec.Decision.ApplicantID, string(rec.Decision.Verdict),
		rec.Decision.Confidence, string(decision), string(application),
		createdAt.UTC(),
	)
	return err
}

const decisionColumns = `decision, application, created_at`

// GetDecision retrieves a stored decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, decisionID string) (*domain.DecisionRecord, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE id = ?`

	rec, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListDecisionsByApplicant returns an applicant's decisions, newest first.
func (r *SQLRepository) ListDecisionsByApplicant(ctx context.Context, applicantID string, limit int) ([]*domain.DecisionRecord, error) {
	if applicantID == "" {
		return nil, fmt.Errorf("%w: applicant_id is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE applicant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), applicantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountDecisionsByApplicant counts an applicant's decisions made since the given time.
func (r *SQLRepository) CountDecisionsByApplicant(ctx context.Context, applicantID string, since time.Time) (int64, error) {
	if applicantID == "" {
		return 0, fmt.Errorf("%w: applicant_id is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM decisions WHERE applicant_id = ? AND created_at >= ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), applicantID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return count, nil
}

func scanDecision(s scanner) (*domain.DecisionRecord, error) {
	var decision, application string
	var rec domain.DecisionRecord

	if err := s.Scan(&decision, &application, &rec.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(decision), &rec.Decision); err != nil {
		return nil, fmt.Errorf("failed to decode decision: %w", err)
	}
	if application != "" && application != "null" {
		if err := json.Unmarshal([]byte(application), &rec.Application); err != nil {
			return nil, fmt.Errorf("failed to decode application: %w", err)
		}
	}
	return &rec, nil
}
