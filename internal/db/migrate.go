package db

import (
	"context"
	"fmt"
)

// migrations are applied in order; the version is the slice index + 1.
// Append only, never edit a shipped entry.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS signals (
		id UUID PRIMARY KEY,
		strategy TEXT NOT NULL,
		symbol TEXT NOT NULL,
		legs JSONB NOT NULL,
		expected_profit_pct NUMERIC NOT NULL,
		expected_profit_usd NUMERIC NOT NULL,
		size_usd NUMERIC NOT NULL,
		confidence NUMERIC NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals (created_at);
	CREATE INDEX IF NOT EXISTS idx_signals_strategy_symbol ON signals (strategy, symbol);
	`,
	`
	CREATE TABLE IF NOT EXISTS trades (
		signal_id UUID PRIMARY KEY,
		strategy TEXT NOT NULL,
		symbol TEXT NOT NULL,
		mode TEXT NOT NULL,
		orders JSONB NOT NULL,
		realized_pnl NUMERIC NOT NULL,
		total_fees NUMERIC NOT NULL,
		hedged BOOLEAN NOT NULL,
		success BOOLEAN NOT NULL,
		reason TEXT,
		executed_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades (executed_at);
	`,
	`
	CREATE TABLE IF NOT EXISTS daily_performance (
		date DATE PRIMARY KEY,
		trade_count INTEGER NOT NULL,
		win_count INTEGER NOT NULL,
		gross_pnl NUMERIC NOT NULL,
		total_fees NUMERIC NOT NULL,
		net_pnl NUMERIC NOT NULL,
		max_drawdown_pct NUMERIC NOT NULL,
		win_rate NUMERIC NOT NULL,
		sharpe_ratio NUMERIC NOT NULL,
		end_equity_usd NUMERIC NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS system_events (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		detail TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_system_events_kind ON system_events (kind, created_at);
	`,
}

// Migrate brings the schema up to the current version.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema_version: %w", err)
	}

	var current int
	if err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := db.pool.Exec(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := db.pool.Exec(ctx,
			`INSERT INTO schema_version (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		db.log.Info().Int("version", version).Msg("Migration applied")
	}
	return nil
}
