package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "credittwin-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testCase(id, applicant string, outcome domain.Outcome, amount, fico float64, date time.Time) *domain.HistoricalCase {
	return &domain.HistoricalCase{
		ApplicationRecord: domain.ApplicationRecord{
			RequestedAmount: domain.Float(amount),
			FICO:            domain.Float(fico),
			DTI:             domain.Float(20),
			AnnualIncome:    domain.Float(60000),
			LoanPurpose:     "debt_consolidation",
			ApplicantID:     applicant,
			State:           "CA",
			Employment:      "10+ years",
		},
		ApplicationID:   id,
		Outcome:         outcome,
		ApplicationDate: date,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("EmptyStats", func(t *testing.T) {
		stats, err := repo.CorpusStats(ctx)
		if err != nil {
			t.Fatalf("CorpusStats failed: %v", err)
		}
		if stats.TotalApplications != 0 || stats.TotalClients != 0 {
			t.Errorf("expected empty corpus, got %+v", stats)
		}
		if stats.AverageRequestedAmount != nil || stats.AverageFICOScore != nil {
			t.Error("expected nil averages for empty corpus")
		}
	})

	cases := []*domain.HistoricalCase{
		testCase("APP-20240301-1", "a1", domain.OutcomeSuccess, 10000, 700, day),
		testCase("APP-20240302-2", "a1", domain.OutcomeDefault, 20000, 710, day.AddDate(0, 0, 1)),
		testCase("REJ-20240301-1", "b2", domain.OutcomeRejected, 5000, 600, day),
	}

	t.Run("SaveAndGetCase", func(t *testing.T) {
		if err := repo.SaveCases(ctx, cases); err != nil {
			t.Fatalf("SaveCases failed: %v", err)
		}

		got, err := repo.GetCase(ctx, "APP-20240301-1")
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.Outcome != domain.OutcomeSuccess {
			t.Errorf("expected outcome success, got %s", got.Outcome)
		}
		if domain.Value(got.RequestedAmount) != 10000 {
			t.Errorf("expected amount 10000, got %v", domain.Value(got.RequestedAmount))
		}
		if got.LoanPurpose != "debt_consolidation" {
			t.Errorf("expected purpose debt_consolidation, got %s", got.LoanPurpose)
		}
	})

	t.Run("UpsertCase", func(t *testing.T) {
		updated := testCase("APP-20240301-1", "a1", domain.OutcomeLatePayments, 10000, 700, day)
		if err := repo.SaveCases(ctx, []*domain.HistoricalCase{updated}); err != nil {
			t.Fatalf("SaveCases failed: %v", err)
		}
		n, _ := repo.CountCases(ctx)
		if n != 3 {
			t.Errorf("expected 3 cases after upsert, got %d", n)
		}
		got, _ := repo.GetCase(ctx, "APP-20240301-1")
		if got.Outcome != domain.OutcomeLatePayments {
			t.Errorf("expected late_payments, got %s", got.Outcome)
		}
	})

	t.Run("RejectsMissingID", func(t *testing.T) {
		err := repo.SaveCases(ctx, []*domain.HistoricalCase{{}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ListCases", func(t *testing.T) {
		all, err := repo.ListCases(ctx, 0)
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 cases, got %d", len(all))
		}
		if all[2].ApplicationID != "APP-20240302-2" {
			t.Errorf("expected latest case last, got %s", all[2].ApplicationID)
		}

		limited, _ := repo.ListCases(ctx, 2)
		if len(limited) != 2 {
			t.Errorf("expected 2 cases, got %d", len(limited))
		}
	})

	t.Run("SampleCases", func(t *testing.T) {
		sample, err := repo.SampleCases(ctx, 2)
		if err != nil {
			t.Fatalf("SampleCases failed: %v", err)
		}
		if len(sample) != 2 {
			t.Errorf("expected 2 cases, got %d", len(sample))
		}
		if _, err := repo.SampleCases(ctx, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ClientHistory", func(t *testing.T) {
		client, err := repo.GetClient(ctx, "a1")
		if err != nil {
			t.Fatalf("GetClient failed: %v", err)
		}
		if client.State != "CA" {
			t.Errorf("expected state CA, got %s", client.State)
		}
		if client.FICO != 700 {
			t.Errorf("expected first-seen fico 700, got %v", client.FICO)
		}

		history, err := repo.ListCasesByApplicant(ctx, "a1")
		if err != nil {
			t.Fatalf("ListCasesByApplicant failed: %v", err)
		}
		if len(history) != 2 {
			t.Errorf("expected 2 applications, got %d", len(history))
		}

		if _, err := repo.GetClient(ctx, "nobody"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CorpusStats", func(t *testing.T) {
		stats, err := repo.CorpusStats(ctx)
		if err != nil {
			t.Fatalf("CorpusStats failed: %v", err)
		}
		if stats.TotalClients != 2 {
			t.Errorf("expected 2 clients, got %d", stats.TotalClients)
		}
		if stats.TotalApplications != 3 {
			t.Errorf("expected 3 applications, got %d", stats.TotalApplications)
		}
		if stats.OutcomeDistribution[domain.OutcomeRejected] != 1 {
			t.Errorf("expected 1 rejected, got %d", stats.OutcomeDistribution[domain.OutcomeRejected])
		}
		if stats.AverageRequestedAmount == nil || *stats.AverageRequestedAmount != 11666.67 {
			t.Errorf("expected average amount 11666.67, got %v", stats.AverageRequestedAmount)
		}
		if stats.AverageFICOScore == nil || *stats.AverageFICOScore != 670 {
			t.Errorf("expected average fico 670, got %v", stats.AverageFICOScore)
		}
	})

	t.Run("DeleteCases", func(t *testing.T) {
		removed, err := repo.DeleteCases(ctx)
		if err != nil {
			t.Fatalf("DeleteCases failed: %v", err)
		}
		if removed != 3 {
			t.Errorf("expected 3 removed, got %d", removed)
		}
		n, _ := repo.CountCases(ctx)
		if n != 0 {
			t.Errorf("expected empty corpus, got %d", n)
		}
		if _, err := repo.GetClient(ctx, "a1"); err != ErrNotFound {
			t.Errorf("expected clients removed, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetCase(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetDecision(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestReplaceCases(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	repo.SaveCases(ctx, []*domain.HistoricalCase{
		testCase("old-1", "a1", domain.OutcomeSuccess, 10000, 700, day),
		testCase("old-2", "a2", domain.OutcomeDefault, 12000, 640, day),
	})

	removed, err := repo.ReplaceCases(ctx, []*domain.HistoricalCase{
		testCase("new-1", "b1", domain.OutcomeSuccess, 9000, 710, day),
	})
	if err != nil {
		t.Fatalf("ReplaceCases failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if n, _ := repo.CountCases(ctx); n != 1 {
		t.Errorf("expected 1 case after replace, got %d", n)
	}
	if _, err := repo.GetClient(ctx, "a1"); err != ErrNotFound {
		t.Errorf("expected previous clients removed, got %v", err)
	}

	t.Run("RollsBackOnInvalidCase", func(t *testing.T) {
		_, err := repo.ReplaceCases(ctx, []*domain.HistoricalCase{
			testCase("new-2", "b2", domain.OutcomeSuccess, 9000, 710, day),
			{},
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetCase(ctx, "new-1"); err != nil {
			t.Errorf("expected previous corpus kept after failed replace, got %v", err)
		}
		if n, _ := repo.CountCases(ctx); n != 1 {
			t.Errorf("expected 1 case after failed replace, got %d", n)
		}
	})
}

func TestDecisions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"d-1", "d-2", "d-3"} {
		rec := &domain.DecisionRecord{
			Decision: &domain.Decision{
				ID:          id,
				Verdict:     domain.VerdictApproved,
				Confidence:  0.95,
				ApplicantID: "c-1",
				Analysis:    &domain.CohortStatistics{TotalTwins: 42, TopTwins: []domain.TwinSummary{}},
			},
			Application: &domain.ApplicationRecord{RequestedAmount: domain.Float(float64(1000 * (i + 1)))},
			CreatedAt:   now.Add(time.Duration(i-10) * time.Minute),
		}
		if err := repo.SaveDecision(ctx, rec); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
	}

	t.Run("GetDecision", func(t *testing.T) {
		rec, err := repo.GetDecision(ctx, "d-2")
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if rec.Decision.Verdict != domain.VerdictApproved {
			t.Errorf("expected APPROVED, got %s", rec.Decision.Verdict)
		}
		if rec.Decision.Analysis == nil || rec.Decision.Analysis.TotalTwins != 42 {
			t.Errorf("expected analysis with 42 twins, got %+v", rec.Decision.Analysis)
		}
		if rec.Application.Amount() != 2000 {
			t.Errorf("expected amount 2000, got %v", rec.Application.Amount())
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		recs, err := repo.ListDecisionsByApplicant(ctx, "c-1", 2)
		if err != nil {
			t.Fatalf("ListDecisionsByApplicant failed: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 decisions, got %d", len(recs))
		}
		if recs[0].Decision.ID != "d-3" {
			t.Errorf("expected d-3 first, got %s", recs[0].Decision.ID)
		}
	})

	t.Run("CountSince", func(t *testing.T) {
		n, err := repo.CountDecisionsByApplicant(ctx, "c-1", now.Add(-9*time.Minute-30*time.Second))
		if err != nil {
			t.Fatalf("CountDecisionsByApplicant failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 decisions in window, got %d", n)
		}

		n, _ = repo.CountDecisionsByApplicant(ctx, "other", now.Add(-time.Hour))
		if n != 0 {
			t.Errorf("expected 0 for unknown applicant, got %d", n)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		err := repo.SaveDecision(ctx, &domain.DecisionRecord{Decision: &domain.Decision{}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.RuleConfig{
		ID:              "high-dti",
		Name:            "High DTI",
		Version:         "1.0.0",
		Expression:      "debt_ratio > 0.5",
		ValueExpression: "debt_ratio * 100.0",
		Severity:        domain.SeverityAlert,
		Message:         "High debt-to-income ratio: {value}%",
		Enabled:         true,
	}
	if err := repo.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}
	second := &domain.RuleConfig{
		ID:         "thin-file",
		Name:       "Thin File",
		Version:    "1.0.0",
		Expression: "history_length < 3.0",
		Severity:   domain.SeverityWarning,
		Message:    "Thin file",
		Enabled:    true,
	}
	if err := repo.SaveRuleConfig(ctx, second); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetRuleConfig(ctx, "high-dti")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.ValueExpression != rule.ValueExpression {
			t.Errorf("expected value expression %q, got %q", rule.ValueExpression, got.ValueExpression)
		}
		if !got.Enabled {
			t.Error("expected rule enabled")
		}
	})

	t.Run("DisableKeepsOrder", func(t *testing.T) {
		rule.Enabled = false
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		rules, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(rules))
		}
		if rules[0].ID != "high-dti" || rules[0].Enabled {
			t.Errorf("expected disabled high-dti first, got %+v", rules[0])
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		if err := repo.SaveRuleConfig(ctx, &domain.RuleConfig{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRepositoryDefaults(t *testing.T) {
	cfg := domain.RepositoryConfig{}.WithDefaults()
	if cfg.Driver != "sqlite" || cfg.SQLitePath != "./credittwin.db" {
		t.Errorf("expected sqlite at ./credittwin.db, got %s %s", cfg.Driver, cfg.SQLitePath)
	}

	pg := domain.RepositoryConfig{Driver: "postgres", PostgresDB: "twins"}.WithDefaults()
	if pg.PostgresHost != "localhost" || pg.PostgresPort != 5432 || pg.PostgresSSLMode != "disable" {
		t.Errorf("expected localhost:5432 sslmode disable, got %s:%d %s", pg.PostgresHost, pg.PostgresPort, pg.PostgresSSLMode)
	}
	if pg.PostgresDB != "twins" {
		t.Errorf("expected explicit dbname kept, got %s", pg.PostgresDB)
	}
}

func TestSQLiteDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cases.db")
	dsn, err := sqliteDSN(domain.RepositoryConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("sqliteDSN failed: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:"+path+"?") {
		t.Errorf("expected file URI for %s, got %s", path, dsn)
	}
	if !strings.Contains(dsn, "_pragma=journal_mode(WAL)") || !strings.Contains(dsn, "_pragma=foreign_keys(ON)") {
		t.Errorf("expected WAL and foreign key pragmas, got %s", dsn)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("expected database directory created, got %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver:           "postgres",
		PostgresUser:     "twin",
		PostgresPassword: `it's secret\`,
	}.WithDefaults()

	dsn, err := postgresDSN(cfg)
	if err != nil {
		t.Fatalf("postgresDSN failed: %v", err)
	}
	expected := `dbname=credittwin host=localhost password='it\'s secret\\' port=5432 sslmode=disable user=twin`
	if dsn != expected {
		t.Errorf("expected %q, got %q", expected, dsn)
	}

	noUser, _ := postgresDSN(domain.RepositoryConfig{Driver: "postgres"}.WithDefaults())
	if strings.Contains(noUser, "user=") || strings.Contains(noUser, "password=") {
		t.Errorf("expected empty credentials omitted, got %q", noUser)
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
