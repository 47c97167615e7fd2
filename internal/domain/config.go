package domain

import (
	"time"
)

// Config holds the complete Shrike configuration.
type Config struct {
	// Pipeline holds every knob of the batch dataset build.
	Pipeline PipelineConfig `json:"pipeline"`

	// Server settings for the post-export serving layer.
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// PipelineConfig is the single configuration surface for all stages.
// Every constant that shapes the generated dataset lives here; nothing is
// buried in stage code. Validate runs before any stage does.
type PipelineConfig struct {
	// PartnerMinInDegree is the minimum count of unique senders an account
	// needs to qualify as a partner candidate.
	PartnerMinInDegree int `json:"partnerMinInDegree"`

	// PartnerCap is the maximum number of partners selected (top-N by
	// in-degree, ties broken by ascending account id). A shortfall below
	// the cap is reported, never padded.
	PartnerCap int `json:"partnerCap"`

	// SampleLimit caps the number of ledger rows loaded. Flagged rows are
	// always kept; only unflagged rows are subsampled. 0 means no cap.
	SampleLimit int `json:"sampleLimit"`

	// CommissionRate is the fraction of trade volume paid as commission.
	CommissionRate float64 `json:"commissionRate"`

	// CommissionDelay is how long after a trade its commission posts.
	CommissionDelay time.Duration `json:"commissionDelay"`

	// Instruments is the fixed catalog trades are hashed into.
	Instruments []string `json:"instruments"`

	// Currencies is the catalog a client's fixed currency is drawn from.
	Currencies []string `json:"currencies"`

	// OppositeTarget is the number of opposite-trade events to synthesize
	// (two events per mirrored pair, so the target must be even).
	OppositeTarget int `json:"oppositeTarget"`

	// OppositeWindow bounds the gap between the two legs of a mirrored pair.
	OppositeWindow time.Duration `json:"oppositeWindow"`

	// OppositeVolumeMin and OppositeVolumeMax bound the base volume of a
	// mirrored pair, drawn uniformly.
	OppositeVolumeMin float64 `json:"oppositeVolumeMin"`
	OppositeVolumeMax float64 `json:"oppositeVolumeMax"`

	// ActivitySpread bounds how far after a client's referral date its
	// synthetic activity is placed, keeping injected events inside the
	// dataset's natural time range.
	ActivitySpread time.Duration `json:"activitySpread"`

	// VolumeJitterMax bounds the mirrored leg's volume multiplier,
	// drawn uniformly from [1.0, VolumeJitterMax].
	VolumeJitterMax float64 `json:"volumeJitterMax"`

	// BonusTarget is the number of deposit→withdrawal cycles to synthesize.
	BonusTarget int `json:"bonusTarget"`

	// BonusDeposit is the base volume of each synthetic deposit trade.
	BonusDeposit float64 `json:"bonusDeposit"`

	// BonusDepositWindow bounds how long a cycle's deposits are spread over.
	BonusDepositWindow time.Duration `json:"bonusDepositWindow"`

	// BonusSettlementWindow bounds the delay between the last deposit and
	// the withdrawal.
	BonusSettlementWindow time.Duration `json:"bonusSettlementWindow"`

	// MaxReusePerAccount caps how many injected events any one client may
	// participate in. Raising it is the explicit, auditable way to relax a
	// shortfall; nothing relaxes automatically.
	MaxReusePerAccount int `json:"maxReusePerAccount"`

	// Seed feeds the single random generator owned by the run. Identical
	// seed and inputs produce byte-identical output tables.
	Seed int64 `json:"seed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the stock configuration: SQLite sink, in-process
// bus and cache, and the reference injection targets.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: DefaultPipelineConfig(),
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shrike",
		},
	}
}

// DefaultPipelineConfig returns the reference dataset parameters.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PartnerMinInDegree: 15,
		PartnerCap:         200,
		SampleLimit:        500000,
		CommissionRate:     0.05,
		CommissionDelay:    time.Hour,
		Instruments: []string{
			"EURUSD", "GBPJPY", "BTCUSD", "XAUUSD", "US100", "AUDCAD", "USDJPY",
		},
		Currencies: []string{
			"USD", "EUR", "GBP", "JPY", "AUD",
		},
		OppositeTarget:        714,
		OppositeWindow:        300 * time.Second,
		OppositeVolumeMin:     50.0,
		OppositeVolumeMax:     5000.0,
		ActivitySpread:        30 * 24 * time.Hour,
		VolumeJitterMax:       1.05,
		BonusTarget:           221,
		BonusDeposit:          50.0,
		BonusDepositWindow:    time.Hour,
		BonusSettlementWindow: 24 * time.Hour,
		MaxReusePerAccount:    4,
		Seed:                  42,
	}
}

// Validate checks the pipeline configuration. It is called once before the
// first stage runs; any failure is fatal.
func (c *PipelineConfig) Validate() error {
	if c.PartnerMinInDegree < 1 {
		return &ConfigurationError{Field: "PartnerMinInDegree", Detail: "must be at least 1"}
	}
	if c.PartnerCap < 1 {
		return &ConfigurationError{Field: "PartnerCap", Detail: "must be at least 1"}
	}
	if c.SampleLimit < 0 {
		return &ConfigurationError{Field: "SampleLimit", Detail: "must not be negative"}
	}
	if c.CommissionRate <= 0 || c.CommissionRate >= 1 {
		return &ConfigurationError{Field: "CommissionRate", Detail: "must be in (0, 1)"}
	}
	if c.CommissionDelay < 0 {
		return &ConfigurationError{Field: "CommissionDelay", Detail: "must not be negative"}
	}
	if len(c.Instruments) == 0 {
		return &ConfigurationError{Field: "Instruments", Detail: "catalog must not be empty"}
	}
	if len(c.Currencies) == 0 {
		return &ConfigurationError{Field: "Currencies", Detail: "catalog must not be empty"}
	}
	if c.OppositeTarget < 0 {
		return &ConfigurationError{Field: "OppositeTarget", Detail: "must not be negative"}
	}
	if c.OppositeTarget%2 != 0 {
		return &ConfigurationError{Field: "OppositeTarget", Detail: "must be even (two events per pair)"}
	}
	if c.OppositeWindow <= 0 {
		return &ConfigurationError{Field: "OppositeWindow", Detail: "must be positive"}
	}
	if c.OppositeVolumeMin <= 0 || c.OppositeVolumeMax < c.OppositeVolumeMin {
		return &ConfigurationError{Field: "OppositeVolume", Detail: "bounds must satisfy 0 < min <= max"}
	}
	if c.ActivitySpread <= 0 {
		return &ConfigurationError{Field: "ActivitySpread", Detail: "must be positive"}
	}
	if c.VolumeJitterMax < 1.0 {
		return &ConfigurationError{Field: "VolumeJitterMax", Detail: "must be at least 1.0"}
	}
	if c.BonusTarget < 0 {
		return &ConfigurationError{Field: "BonusTarget", Detail: "must not be negative"}
	}
	if c.BonusDeposit <= 0 {
		return &ConfigurationError{Field: "BonusDeposit", Detail: "must be positive"}
	}
	if c.BonusDepositWindow <= 0 {
		return &ConfigurationError{Field: "BonusDepositWindow", Detail: "must be positive"}
	}
	if c.BonusSettlementWindow <= 0 {
		return &ConfigurationError{Field: "BonusSettlementWindow", Detail: "must be positive"}
	}
	if c.MaxReusePerAccount < 1 {
		return &ConfigurationError{Field: "MaxReusePerAccount", Detail: "must be at least 1"}
	}
	return nil
}
