package db

import (
	"context"
	"fmt"
	"time"
)

// RecordSystemEvent writes one operational marker, e.g. the
// emergency-stop record an operator checks before restarting.
func (db *DB) RecordSystemEvent(ctx context.Context, kind, detail string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO system_events (kind, detail, created_at) VALUES ($1, $2, $3)`,
		kind, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record system event %s: %w", kind, err)
	}
	return nil
}
