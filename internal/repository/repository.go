// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// memberSeparator joins ring member ids inside a single column.
const memberSeparator = ";"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	cfg = cfg.Normalize()

	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDataset stores all tables of a run in a single transaction.
// A failure at any point rolls back the whole run.
func (r *SQLRepository) SaveDataset(ctx context.Context, runID string, ds *domain.Dataset, rec *domain.Reconciliation) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertAccounts(ctx, tx, runID, ds.Accounts); err != nil {
		return err
	}
	if err := r.insertReferrals(ctx, tx, runID, ds.Referrals); err != nil {
		return err
	}
	if err := r.insertTrades(ctx, tx, runID, ds.Trades); err != nil {
		return err
	}
	if err := r.insertCommissions(ctx, tx, runID, ds.Commissions); err != nil {
		return err
	}
	if err := r.insertWithdrawals(ctx, tx, runID, ds.Withdrawals); err != nil {
		return err
	}
	if err := r.insertFraudRings(ctx, tx, runID, ds.FraudRings); err != nil {
		return err
	}
	if err := r.insertRun(ctx, tx, runID, rec); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLRepository) insertAccounts(ctx context.Context, tx *sql.Tx, runID string, accounts []domain.Account) error {
	query := r.rebind(`
		INSERT INTO accounts (run_id, account_id, role, bank, entity, is_fraudulent)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare accounts insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range accounts {
		if _, err := stmt.ExecContext(ctx, runID, a.AccountID, string(a.Role), a.Bank, a.Entity, boolToInt(a.IsFraudulent)); err != nil {
			return fmt.Errorf("failed to insert account %s: %w", a.AccountID, err)
		}
	}
	return nil
}

func (r *SQLRepository) insertReferrals(ctx context.Context, tx *sql.Tx, runID string, referrals []domain.ReferralEdge) error {
	query := r.rebind(`
		INSERT INTO referrals (run_id, partner_id, client_id, referral_date)
		VALUES (?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare referrals insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range referrals {
		if _, err := stmt.ExecContext(ctx, runID, e.PartnerID, e.ClientID, e.ReferralDate); err != nil {
			return fmt.Errorf("failed to insert referral %s->%s: %w", e.PartnerID, e.ClientID, err)
		}
	}
	return nil
}

func (r *SQLRepository) insertTrades(ctx context.Context, tx *sql.Tx, runID string, trades []domain.TradeEvent) error {
	query := r.rebind(`
		INSERT INTO trades (run_id, trade_id, client_id, instrument, timestamp, direction, volume, is_opposite_trade, is_bonus_abuse)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare trades insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			runID, t.TradeID, t.ClientID, t.Instrument, t.Timestamp,
			string(t.Direction), t.Volume, boolToInt(t.IsOppositeTrade), boolToInt(t.IsBonusAbuse),
		); err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.TradeID, err)
		}
	}
	return nil
}

func (r *SQLRepository) insertCommissions(ctx context.Context, tx *sql.Tx, runID string, commissions []domain.CommissionEvent) error {
	query := r.rebind(`
		INSERT INTO commissions (run_id, commission_id, client_id, partner_id, trade_id, timestamp, commission_amount, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare commissions insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range commissions {
		if _, err := stmt.ExecContext(ctx,
			runID, c.CommissionID, c.ClientID, c.PartnerID, c.TradeID,
			c.Timestamp, c.CommissionAmount, c.Currency,
		); err != nil {
			return fmt.Errorf("failed to insert commission %s: %w", c.CommissionID, err)
		}
	}
	return nil
}

func (r *SQLRepository) insertWithdrawals(ctx context.Context, tx *sql.Tx, runID string, withdrawals []domain.WithdrawalEvent) error {
	query := r.rebind(`
		INSERT INTO withdrawals (run_id, withdrawal_id, client_id, timestamp, amount)
		VALUES (?, ?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare withdrawals insert: %w", err)
	}
	defer stmt.Close()

	for _, w := range withdrawals {
		if _, err := stmt.ExecContext(ctx, runID, w.WithdrawalID, w.ClientID, w.Timestamp, w.Amount); err != nil {
			return fmt.Errorf("failed to insert withdrawal %s: %w", w.WithdrawalID, err)
		}
	}
	return nil
}

func (r *SQLRepository) insertFraudRings(ctx context.Context, tx *sql.Tx, runID string, rings []domain.FraudRing) error {
	query := r.rebind(`
		INSERT INTO fraud_rings (run_id, ring_id, pattern_type, member_account_ids, hub_account_id)
		VALUES (?, ?, ?, ?, ?)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare fraud_rings insert: %w", err)
	}
	defer stmt.Close()

	for _, ring := range rings {
		members := strings.Join(ring.MemberAccountIDs, memberSeparator)
		if _, err := stmt.ExecContext(ctx, runID, ring.RingID, string(ring.PatternType), members, ring.HubAccountID); err != nil {
			return fmt.Errorf("failed to insert fraud ring %s: %w", ring.RingID, err)
		}
	}
	return nil
}

func (r *SQLRepository) insertRun(ctx context.Context, tx *sql.Tx, runID string, rec *domain.Reconciliation) error {
	if rec == nil {
		rec = &domain.Reconciliation{}
	}

	query := r.rebind(`
		INSERT INTO runs (run_id, created_at, opposite_target, opposite_actual, bonus_target, bonus_actual, partner_shortfall, dropped_ring_members)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := tx.ExecContext(ctx, query,
		runID, time.Now().UTC(),
		rec.OppositeTarget, rec.OppositeActual,
		rec.BonusTarget, rec.BonusActual,
		rec.PartnerShortfall, rec.DroppedRingMembers,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// GetAccount retrieves one account row from a stored run.
func (r *SQLRepository) GetAccount(ctx context.Context, runID string, accountID string) (*domain.Account, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `
		SELECT account_id, role, bank, entity, is_fraudulent
		FROM accounts
		WHERE run_id = ? AND account_id = ?
	`

	var a domain.Account
	var role string
	var fraud int

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID, accountID).Scan(
		&a.AccountID, &role, &a.Bank, &a.Entity, &fraud,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Role = domain.Role(role)
	a.IsFraudulent = fraud == 1
	return &a, nil
}

// GetReconciliation retrieves the stored reconciliation record for a run.
func (r *SQLRepository) GetReconciliation(ctx context.Context, runID string) (*domain.Reconciliation, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `
		SELECT opposite_target, opposite_actual, bonus_target, bonus_actual, partner_shortfall, dropped_ring_members
		FROM runs
		WHERE run_id = ?
	`

	var rec domain.Reconciliation
	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&rec.OppositeTarget, &rec.OppositeActual,
		&rec.BonusTarget, &rec.BonusActual,
		&rec.PartnerShortfall, &rec.DroppedRingMembers,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TableCounts returns per-table row counts for a stored run.
func (r *SQLRepository) TableCounts(ctx context.Context, runID string) (map[string]int64, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	tables := []string{"accounts", "referrals", "trades", "commissions", "withdrawals", "fraud_rings"}
	counts := make(map[string]int64, len(tables))

	for _, table := range tables {
		// Table names come from the fixed list above, never from input.
		query := r.rebind("SELECT COUNT(*) FROM " + table + " WHERE run_id = ?")

		var n int64
		if err := r.db.QueryRowContext(ctx, query, runID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
