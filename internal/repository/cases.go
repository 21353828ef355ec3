package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// SaveCases upserts historical cases and records first-seen client profiles
// in one transaction.
func (r *SQLRepository) SaveCases(ctx context.Context, cases []*domain.HistoricalCase) error {
	if len(cases) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertCases(ctx, tx, cases); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceCases deletes every case and client and saves cases in one
// transaction. It returns the number of cases removed.
func (r *SQLRepository) ReplaceCases(ctx context.Context, cases []*domain.HistoricalCase) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed, err := deleteCases(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := r.insertCases(ctx, tx, cases); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *SQLRepository) insertCases(ctx context.Context, tx *sql.Tx, cases []*domain.HistoricalCase) error {
	caseStmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO cases (
			application_id, applicant_id, outcome, requested_amount, fico,
			application_date, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(application_id) DO UPDATE SET
			applicant_id = excluded.applicant_id,
			outcome = excluded.outcome,
			requested_amount = excluded.requested_amount,
			fico = excluded.fico,
			application_date = excluded.application_date,
			payload = excluded.payload
	`))
	if err != nil {
		return err
	}
	defer caseStmt.Close()

	clientStmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO clients (applicant_id, state, employment, region, sector, fico, first_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(applicant_id) DO NOTHING
	`))
	if err != nil {
		return err
	}
	defer clientStmt.Close()

	now := time.Now().UTC()
	for _, c := range cases {
		if c == nil || c.ApplicationID == "" {
			return fmt.Errorf("%w: application_id is required", ErrInvalidInput)
		}

		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode case %s: %w", c.ApplicationID, err)
		}

		if _, err := caseStmt.ExecContext(ctx,
			c.ApplicationID, c.ApplicantID, string(c.Outcome),
			nullFloat(c.RequestedAmount), nullFloat(c.FICO),
			c.ApplicationDate.UTC(), string(payload), now,
		); err != nil {
			return fmt.Errorf("failed to save case %s: %w", c.ApplicationID, err)
		}

		if c.ApplicantID == "" {
			continue
		}
		if _, err := clientStmt.ExecContext(ctx,
			c.ApplicantID, c.State, c.Employment, c.Region, c.Sector,
			domain.ValueOr(c.FICO, 600), c.ApplicationDate.UTC(),
		); err != nil {
			return fmt.Errorf("failed to save client %s: %w", c.ApplicantID, err)
		}
	}

	return nil
}

// GetCase retrieves a historical case by application ID.
func (r *SQLRepository) GetCase(ctx context.Context, applicationID string) (*domain.HistoricalCase, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT payload FROM cases WHERE application_id = ?`), applicationID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCase(payload)
}

// ListCases returns cases in application date order. A limit of zero or
// less returns the whole corpus.
func (r *SQLRepository) ListCases(ctx context.Context, limit int) ([]*domain.HistoricalCase, error) {
	query := `SELECT payload FROM cases ORDER BY application_date, application_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryCases(ctx, query, args...)
}

// SampleCases returns up to n cases in random order.
func (r *SQLRepository) SampleCases(ctx context.Context, n int) ([]*domain.HistoricalCase, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: sample size must be positive", ErrInvalidInput)
	}
	return r.queryCases(ctx, `SELECT payload FROM cases ORDER BY RANDOM() LIMIT ?`, n)
}

// ListCasesByApplicant returns an applicant's cases in application date order.
func (r *SQLRepository) ListCasesByApplicant(ctx context.Context, applicantID string) ([]*domain.HistoricalCase, error) {
	if applicantID == "" {
		return nil, fmt.Errorf("%w: applicant_id is required", ErrInvalidInput)
	}
	return r.queryCases(ctx,
		`SELECT payload FROM cases WHERE applicant_id = ? ORDER BY application_date, application_id`,
		applicantID,
	)
}

// CountCases returns the corpus size.
func (r *SQLRepository) CountCases(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&n)
	return n, err
}

// DeleteCases removes every case and client profile. It returns the number
// of cases removed.
func (r *SQLRepository) DeleteCases(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed, err := deleteCases(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func deleteCases(ctx context.Context, tx *sql.Tx) (int, error) {
	result, err := tx.ExecContext(ctx, `DELETE FROM cases`)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM clients`); err != nil {
		return 0, err
	}
	return int(removed), nil
}

// CorpusStats aggregates client and application counts, the outcome
// distribution, and averages rounded to cents.
func (r *SQLRepository) CorpusStats(ctx context.Context) (*domain.CorpusStats, error) {
	stats := &domain.CorpusStats{
		OutcomeDistribution: make(map[domain.Outcome]int),
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&stats.TotalClients); err != nil {
		return nil, fmt.Errorf("failed to count clients: %w", err)
	}

	var avgAmount, avgFICO sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(requested_amount), AVG(fico) FROM cases`,
	).Scan(&stats.TotalApplications, &avgAmount, &avgFICO)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cases: %w", err)
	}
	stats.AverageRequestedAmount = roundCents(avgAmount)
	stats.AverageFICOScore = roundCents(avgFICO)

	rows, err := r.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM cases GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		stats.OutcomeDistribution[domain.Outcome(outcome)] = n
	}

	return stats, rows.Err()
}

// GetClient retrieves an applicant profile.
func (r *SQLRepository) GetClient(ctx context.Context, applicantID string) (*domain.Client, error) {
	query := `
		SELECT applicant_id, state, employment, region, sector, fico, first_seen
		FROM clients
		WHERE applicant_id = ?
	`

	var c domain.Client
	var region, sector sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), applicantID).Scan(
		&c.ApplicantID, &c.State, &c.Employment, &region, &sector, &c.FICO, &c.FirstSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Region = region.String
	c.Sector = sector.String
	return &c, nil
}

func (r *SQLRepository) queryCases(ctx context.Context, query string, args ...any) ([]*domain.HistoricalCase, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.HistoricalCase
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		c, err := decodeCase(payload)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

func decodeCase(payload string) (*domain.HistoricalCase, error) {
	var c domain.HistoricalCase
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("failed to decode case: %w", err)
	}
	return &c, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func roundCents(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f, _ := decimal.NewFromFloat(v.Float64).Round(2).Float64()
	return &f
}
