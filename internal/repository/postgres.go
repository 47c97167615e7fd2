package repository

import (
	"database/sql"
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a shared dataset store over lib/pq. cfg must be
// normalized.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresPort,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresSSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	return db, nil
}
