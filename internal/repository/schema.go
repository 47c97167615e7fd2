package repository

// Schema definitions for the Shrike dataset store.
// Compatible with both SQLite and PostgreSQL. Every table is keyed by
// run_id so multiple builds can coexist in one database.

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    run_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    role TEXT NOT NULL,
    bank TEXT,
    entity TEXT,
    is_fraudulent INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, account_id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_role ON accounts(run_id, role);
CREATE INDEX IF NOT EXISTS idx_accounts_fraud ON accounts(run_id, is_fraudulent);
`

const schemaReferrals = `
CREATE TABLE IF NOT EXISTS referrals (
    run_id TEXT NOT NULL,
    partner_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    referral_date TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, partner_id, client_id)
);

CREATE INDEX IF NOT EXISTS idx_referrals_client ON referrals(run_id, client_id);
`

const schemaTrades = `
CREATE TABLE IF NOT EXISTS trades (
    run_id TEXT NOT NULL,
    trade_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    instrument TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    direction TEXT NOT NULL,
    volume REAL NOT NULL,
    is_opposite_trade INTEGER NOT NULL DEFAULT 0,
    is_bonus_abuse INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, trade_id)
);

CREATE INDEX IF NOT EXISTS idx_trades_client ON trades(run_id, client_id);
CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(run_id, timestamp);
`

const schemaCommissions = `
CREATE TABLE IF NOT EXISTS commissions (
    run_id TEXT NOT NULL,
    commission_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    partner_id TEXT NOT NULL,
    trade_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    commission_amount REAL NOT NULL,
    currency TEXT NOT NULL,
    PRIMARY KEY (run_id, commission_id)
);

CREATE INDEX IF NOT EXISTS idx_commissions_partner ON commissions(run_id, partner_id);
CREATE INDEX IF NOT EXISTS idx_commissions_trade ON commissions(run_id, trade_id);
`

const schemaWithdrawals = `
CREATE TABLE IF NOT EXISTS withdrawals (
    run_id TEXT NOT NULL,
    withdrawal_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    PRIMARY KEY (run_id, withdrawal_id)
);

CREATE INDEX IF NOT EXISTS idx_withdrawals_client ON withdrawals(run_id, client_id);
`

const schemaFraudRings = `
CREATE TABLE IF NOT EXISTS fraud_rings (
    run_id TEXT NOT NULL,
    ring_id TEXT NOT NULL,
    pattern_type TEXT NOT NULL,
    member_account_ids TEXT NOT NULL,
    hub_account_id TEXT,
    PRIMARY KEY (run_id, ring_id)
);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    opposite_target INTEGER NOT NULL,
    opposite_actual INTEGER NOT NULL,
    bonus_target INTEGER NOT NULL,
    bonus_actual INTEGER NOT NULL,
    partner_shortfall INTEGER NOT NULL,
    dropped_ring_members INTEGER NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAccounts,
		schemaReferrals,
		schemaTrades,
		schemaCommissions,
		schemaWithdrawals,
		schemaFraudRings,
		schemaRuns,
	}
}
