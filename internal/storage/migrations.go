package storage

import (
	"context"
	"fmt"

	logx "finpipe/pkg/logx"
)

type migration struct {
	version int
	stmts   []string
}

// Statements stay portable between sqlite and postgres: TEXT money columns
// (decimal strings), TIMESTAMP dates, no engine-specific types.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id    TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				name  TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS investments (
				id                     TEXT PRIMARY KEY,
				user_id                TEXT NOT NULL REFERENCES users(id),
				plan_name              TEXT NOT NULL,
				amount_invested        TEXT NOT NULL,
				expected_return_amount TEXT NOT NULL,
				interest_rate          TEXT NOT NULL DEFAULT '0',
				duration_days          INTEGER NOT NULL DEFAULT 0,
				payment_method         TEXT NOT NULL DEFAULT '',
				status                 TEXT NOT NULL,
				start_date             TIMESTAMP NOT NULL,
				maturity_date          TIMESTAMP NOT NULL,
				created_at             TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_investments_user ON investments(user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_investments_due ON investments(status, maturity_date)`,
			`CREATE TABLE IF NOT EXISTS pending_investments (
				id               TEXT PRIMARY KEY,
				user_id          TEXT NOT NULL REFERENCES users(id),
				plan_name        TEXT NOT NULL,
				amount_usd       TEXT NOT NULL,
				expected_return  TEXT NOT NULL,
				interest_rate    TEXT NOT NULL DEFAULT '0',
				duration_days    INTEGER NOT NULL DEFAULT 0,
				payment_method   TEXT NOT NULL DEFAULT '',
				status           TEXT NOT NULL,
				rejection_reason TEXT NOT NULL DEFAULT '',
				created_at       TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_investments_user ON pending_investments(user_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS transactions (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL REFERENCES users(id),
				type        TEXT NOT NULL,
				amount      TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status      TEXT NOT NULL,
				created_at  TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS withdrawal_requests (
				id               TEXT PRIMARY KEY,
				user_id          TEXT NOT NULL REFERENCES users(id),
				amount           TEXT NOT NULL,
				payment_method   TEXT NOT NULL,
				wallet_address   TEXT NOT NULL,
				status           TEXT NOT NULL,
				transaction_hash TEXT NOT NULL DEFAULT '',
				rejection_reason TEXT NOT NULL DEFAULT '',
				created_at       TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawal_requests(user_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		},
	},
}

// migrate applies outstanding migrations in order.
func (s *SQLStore) migrate(ctx context.Context) error {
	current := 0

	// schema_version is created by migration 1; a missing table means a fresh db.
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(tableExistsQuery(s.db.DriverName())), "schema_version"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if n > 0 {
		if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_version(version) VALUES (?)"), m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.Int("version", m.version))
	}
	return nil
}

func tableExistsQuery(driver string) string {
	if driver == "sqlite" {
		return "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?"
	}
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?"
}
