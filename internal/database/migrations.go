package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                          VARCHAR(64) PRIMARY KEY,
		referrer_id                 VARCHAR(64) NULL REFERENCES accounts(id),
		wallet_balance              NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
		click_earnings              NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (click_earnings >= 0),
		direct_referral_earnings    NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (direct_referral_earnings >= 0),
		indirect_referral_earnings  NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (indirect_referral_earnings >= 0),
		shared_earnings             NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (shared_earnings >= 0),
		total_withdrawn             NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (total_withdrawn >= 0),
		daily_click_count           INTEGER NOT NULL DEFAULT 0,
		daily_click_earnings        NUMERIC(18,4) NOT NULL DEFAULT 0,
		last_click_reset            TIMESTAMPTZ NULL,
		last_click_at               TIMESTAMPTZ NULL,
		clicking_task_activated     BOOLEAN NOT NULL DEFAULT FALSE,
		is_active                   BOOLEAN NOT NULL DEFAULT FALSE,
		approval_status             VARCHAR(16) NOT NULL DEFAULT 'pending',
		version                     INTEGER NOT NULL DEFAULT 0,
		created_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_referrer ON accounts (referrer_id)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id                  VARCHAR(64) PRIMARY KEY,
		account_id          VARCHAR(64) NOT NULL REFERENCES accounts(id),
		package_type        SMALLINT NOT NULL CHECK (package_type IN (1, 2, 3)),
		principal_amount    NUMERIC(18,4) NOT NULL CHECK (principal_amount > 0),
		remaining_principal NUMERIC(18,4) NOT NULL CHECK (remaining_principal >= 0),
		daily_income_rate   NUMERIC(18,4) NOT NULL,
		start_date          TIMESTAMPTZ NOT NULL,
		end_date            TIMESTAMPTZ NOT NULL,
		last_accrual_at     TIMESTAMPTZ NOT NULL,
		accrued_earnings    NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (accrued_earnings >= 0),
		earnings_withdrawn  NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (earnings_withdrawn >= 0),
		status              VARCHAR(16) NOT NULL,
		claimed             BOOLEAN NOT NULL DEFAULT FALSE,
		claimed_at          TIMESTAMPTZ NULL,
		version             INTEGER NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_packages_account ON packages (account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_packages_status_end ON packages (status, end_date)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id                         VARCHAR(64) PRIMARY KEY,
		account_id                 VARCHAR(64) NOT NULL REFERENCES accounts(id),
		amount                     NUMERIC(18,4) NOT NULL CHECK (amount > 0),
		source_bucket              VARCHAR(32) NOT NULL,
		method                     VARCHAR(64) NOT NULL,
		destination_account_number VARCHAR(64) NOT NULL,
		destination_account_name   VARCHAR(128) NOT NULL,
		status                     VARCHAR(16) NOT NULL,
		allocations                JSONB NULL,
		requested_at               TIMESTAMPTZ NOT NULL,
		processed_at               TIMESTAMPTZ NULL,
		version                    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals (status, requested_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		id                    VARCHAR(64) PRIMARY KEY,
		account_id            VARCHAR(64) NOT NULL REFERENCES accounts(id),
		type                  VARCHAR(40) NOT NULL,
		amount                NUMERIC(18,4) NOT NULL,
		related_account_id    VARCHAR(64) NULL,
		related_withdrawal_id VARCHAR(64) NULL,
		related_package_id    VARCHAR(64) NULL,
		referral_level        SMALLINT NULL,
		reference             VARCHAR(128) NULL UNIQUE,
		description           TEXT NOT NULL DEFAULT '',
		status                VARCHAR(16) NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_transactions_account ON ledger_transactions (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS system_settings (
		key        VARCHAR(64) PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the ledger tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}

	return tx.Commit()
}
