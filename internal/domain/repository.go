// Package domain defines the core interfaces and types for CreditTwin.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Historical case operations
	SaveCases(ctx context.Context, cases []*HistoricalCase) error
	GetCase(ctx context.Context, applicationID string) (*HistoricalCase, error)
	ListCases(ctx context.Context, limit int) ([]*HistoricalCase, error)
	SampleCases(ctx context.Context, n int) ([]*HistoricalCase, error)
	ListCasesByApplicant(ctx context.Context, applicantID string) ([]*HistoricalCase, error)
	CountCases(ctx context.Context) (int, error)
	DeleteCases(ctx context.Context) (int, error)
	ReplaceCases(ctx context.Context, cases []*HistoricalCase) (int, error)
	CorpusStats(ctx context.Context) (*CorpusStats, error)

	// Client profiles
	GetClient(ctx context.Context, applicantID string) (*Client, error)

	// Decisions
	SaveDecision(ctx context.Context, rec *DecisionRecord) error
	GetDecision(ctx context.Context, decisionID string) (*DecisionRecord, error)
	ListDecisionsByApplicant(ctx context.Context, applicantID string, limit int) ([]*DecisionRecord, error)
	CountDecisionsByApplicant(ctx context.Context, applicantID string, since time.Time) (int64, error)

	// Flag rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Client is the profile shared by all applications of one applicant.
type Client struct {
	ApplicantID string    `json:"applicant_id"`
	State       string    `json:"state"`
	Employment  string    `json:"employment"`
	Region      string    `json:"region,omitempty"`
	Sector      string    `json:"sector,omitempty"`
	FICO        float64   `json:"fico"`
	FirstSeen   time.Time `json:"first_seen"`
}

// CorpusStats aggregates the historical corpus.
type CorpusStats struct {
	TotalClients           int             `json:"total_clients"`
	TotalApplications      int             `json:"total_applications"`
	OutcomeDistribution    map[Outcome]int `json:"outcome_distribution"`
	AverageRequestedAmount *float64        `json:"average_requested_amount"`
	AverageFICOScore       *float64        `json:"average_fico_score"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}

// WithDefaults fills unset connection fields for the configured driver.
// An empty driver selects sqlite.
func (c RepositoryConfig) WithDefaults() RepositoryConfig {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	switch c.Driver {
	case "sqlite":
		if c.SQLitePath == "" {
			c.SQLitePath = "./credittwin.db"
		}
	case "postgres":
		if c.PostgresHost == "" {
			c.PostgresHost = "localhost"
		}
		if c.PostgresPort == 0 {
			c.PostgresPort = 5432
		}
		if c.PostgresDB == "" {
			c.PostgresDB = "credittwin"
		}
		if c.PostgresSSLMode == "" {
			c.PostgresSSLMode = "disable"
		}
	}
	return c
}
