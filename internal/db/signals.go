package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbot-io/arbot/internal/models"
)

// InsertSignal records one detector emission, whatever its fate.
func (db *DB) InsertSignal(ctx context.Context, sig *models.Signal) error {
	legs, err := json.Marshal(sig.Legs)
	if err != nil {
		return fmt.Errorf("marshal legs: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO signals (
			id, strategy, symbol, legs, expected_profit_pct,
			expected_profit_usd, size_usd, confidence, status, reason,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason`,
		sig.ID,
		string(sig.Strategy),
		sig.Symbol,
		legs,
		sig.ExpectedProfitPct,
		sig.ExpectedProfitUSD,
		sig.SizeUSD,
		sig.Confidence,
		string(sig.Status),
		sig.Reason,
		sig.CreatedAt,
		sig.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignalStatus records where in the pipeline a signal ended up.
func (db *DB) UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus, reason string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE signals SET status = $2, reason = $3 WHERE id = $1`,
		id, string(status), reason)
	if err != nil {
		return fmt.Errorf("update signal %s: %w", id, err)
	}
	return nil
}

// SignalRecord is one persisted signal row.
type SignalRecord struct {
	ID        string
	Strategy  string
	Symbol    string
	Status    string
	Reason    string
	CreatedAt time.Time
}

// RecentSignals returns the newest signals, for the status endpoint.
func (db *DB) RecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, strategy, symbol, status, COALESCE(reason, ''), created_at
		FROM signals ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var r SignalRecord
		if err := rows.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Status, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
