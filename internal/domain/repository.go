package domain

import (
	"context"
	"time"
)

// Repository persists exported datasets. The whole dataset is written in a
// single transaction so a run either lands completely or not at all.
type Repository interface {
	// SaveDataset stores all tables of a run atomically.
	SaveDataset(ctx context.Context, runID string, ds *Dataset, rec *Reconciliation) error

	// GetAccount retrieves one account row from a stored run.
	GetAccount(ctx context.Context, runID string, accountID string) (*Account, error)

	// GetReconciliation retrieves the stored reconciliation record.
	GetReconciliation(ctx context.Context, runID string) (*Reconciliation, error)

	// TableCounts returns per-table row counts for a stored run.
	TableCounts(ctx context.Context, runID string) (map[string]int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Normalize fills unset connection fields with their defaults. The driver
// openers assume a normalized config and never guess on their own.
func (c RepositoryConfig) Normalize() RepositoryConfig {
	if c.SQLitePath == "" {
		c.SQLitePath = "./shrike.db"
	}
	if c.PostgresHost == "" {
		c.PostgresHost = "localhost"
	}
	if c.PostgresPort == 0 {
		c.PostgresPort = 5432
	}
	if c.PostgresDB == "" {
		c.PostgresDB = "shrike"
	}
	if c.PostgresSSLMode == "" {
		c.PostgresSSLMode = "disable"
	}
	return c
}
