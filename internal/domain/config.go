package domain

import "time"

// Config holds the complete CreditTwin configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`
	Index      IndexConfig      `json:"index" mapstructure:"index"`
	Narrative  NarrativeConfig  `json:"narrative" mapstructure:"narrative"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`

	// Decision engine
	Engine   EngineConfig `json:"engine" mapstructure:"engine"`
	Policy   PolicyConfig `json:"policy" mapstructure:"policy"`
	Velocity VelocityRule `json:"velocity" mapstructure:"velocity"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName  string `json:"serviceName" mapstructure:"service_name"`
	ExporterType string `json:"exporterType" mapstructure:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
}

// NarrativeConfig controls LLM narration.
type NarrativeConfig struct {
	// Provider is "template" (no LLM) or "gemini"
	Provider    string        `json:"provider" mapstructure:"provider"`
	APIKey      string        `json:"-" mapstructure:"api_key"`
	Model       string        `json:"model" mapstructure:"model"`
	Temperature float32       `json:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

// StorageConfig configures the export archive.
type StorageConfig struct {
	// Type is "local" or "s3"
	Type      string `json:"type" mapstructure:"type"`
	LocalPath string `json:"localPath" mapstructure:"local_path"`
	S3Bucket  string `json:"s3Bucket" mapstructure:"s3_bucket"`
	S3Region  string `json:"s3Region" mapstructure:"s3_region"`
	S3Prefix  string `json:"s3Prefix" mapstructure:"s3_prefix"`

	// Optional static credentials; the default AWS chain is used otherwise
	AccessKeyID     string `json:"-" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"-" mapstructure:"secret_access_key"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
}

// EngineConfig holds query parameters for the decision engine.
type EngineConfig struct {
	TopK int `json:"topK" mapstructure:"top_k"`

	// Neighbour requested_amount must fall within [low, high] x requested
	AmountBandLow  float64 `json:"amountBandLow" mapstructure:"amount_band_low"`
	AmountBandHigh float64 `json:"amountBandHigh" mapstructure:"amount_band_high"`

	// Persist decisions and publish decision events
	PersistDecisions bool `json:"persistDecisions" mapstructure:"persist_decisions"`
	PublishDecisions bool `json:"publishDecisions" mapstructure:"publish_decisions"`

	WorkerCount int `json:"workerCount" mapstructure:"worker_count"`
}

// PolicyConfig holds the decision thresholds.
type PolicyConfig struct {
	MinNeighbors           int     `json:"minNeighbors" mapstructure:"min_neighbors"`
	ApproveSuccessRate     float64 `json:"approveSuccessRate" mapstructure:"approve_success_rate"`
	ApproveMaxDefaultRate  float64 `json:"approveMaxDefaultRate" mapstructure:"approve_max_default_rate"`
	ConditionalSuccessRate float64 `json:"conditionalSuccessRate" mapstructure:"conditional_success_rate"`
	ConditionalMaxDefault  float64 `json:"conditionalMaxDefault" mapstructure:"conditional_max_default"`
	ReviewSuccessRate      float64 `json:"reviewSuccessRate" mapstructure:"review_success_rate"`
	ReductionDefaultRate   float64 `json:"reductionDefaultRate" mapstructure:"reduction_default_rate"`
	PremiumLateRate        float64 `json:"premiumLateRate" mapstructure:"premium_late_rate"`
	FraudFlagCount         int     `json:"fraudFlagCount" mapstructure:"fraud_flag_count"`
	FraudWindow            int     `json:"fraudWindow" mapstructure:"fraud_window"`
	NearIdentity           float64 `json:"nearIdentity" mapstructure:"near_identity"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and an in-process index
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS, Redis and pgvector
	TierPro Tier = "pro"
)

// DefaultPolicy returns the stock decision thresholds.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		MinNeighbors:           10,
		ApproveSuccessRate:     0.99,
		ApproveMaxDefaultRate:  0.05,
		ConditionalSuccessRate: 0.90,
		ConditionalMaxDefault:  0.10,
		ReviewSuccessRate:      0.85,
		ReductionDefaultRate:   0.05,
		PremiumLateRate:        0.10,
		FraudFlagCount:         5,
		FraudWindow:            20,
		NearIdentity:           0.999,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./credittwin.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Index: IndexConfig{
			Type:       "memory",
			Collection: "credit_applications",
			BatchSize:  500,
		},
		Narrative: NarrativeConfig{
			Provider:    "template",
			Model:       "gemini-1.5-flash",
			Temperature: 0.7,
			Timeout:     10 * time.Second,
		},
		Storage: StorageConfig{
			Type:      "local",
			LocalPath: "./archive",
		},
		Engine: EngineConfig{
			TopK:             100,
			AmountBandLow:    0.7,
			AmountBandHigh:   1.3,
			PersistDecisions: true,
			PublishDecisions: true,
			WorkerCount:      4,
		},
		Policy: DefaultPolicy(),
		Velocity: VelocityRule{
			WindowSecs: 86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "credittwin",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "credittwin",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       60 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Index = IndexConfig{
		Type:        "pgvector",
		Collection:  "credit_applications",
		BatchSize:   500,
		PostgresURL: "postgres://localhost:5432/credittwin",
		MaxConns:    10,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
