// Package db persists signals, trades, and daily performance to
// PostgreSQL through pgx. The pool is behind a small interface so
// repositories are testable with pgxmock.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/arbot-io/arbot/internal/config"
)

// Pool is the subset of pgxpool.Pool the repositories use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	pool Pool
	log  zerolog.Logger
}

// New creates a connection pool from config. The password comes from
// the environment, never from the config file.
func New(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)
	if poolCfg.MaxConns < 2 {
		poolCfg.MaxConns = 2
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l := log.With().Str("component", "db").Logger()
	l.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Database connection pool created")

	return &DB{pool: pool, log: l}, nil
}

// NewWithPool wraps an existing pool, used by tests.
func NewWithPool(pool Pool, log zerolog.Logger) *DB {
	return &DB{pool: pool, log: log.With().Str("component", "db").Logger()}
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		db.log.Info().Msg("Database connection pool closed")
	}
}

// Health checks database connectivity.
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
