// Package database opens the PostgreSQL pool and creates the schema.
package database

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mocktrade/trading-engine/internal/config"
)

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// BuildConnString returns cfg.URL when set, otherwise a connection URL
// assembled from the individual fields.
func BuildConnString(cfg config.DBConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		port,
		cfg.Name,
		sslMode,
	)
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance       NUMERIC NOT NULL DEFAULT 0,
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		ticker         TEXT NOT NULL UNIQUE,
		price          NUMERIC NOT NULL,
		change         NUMERIC NOT NULL DEFAULT 0,
		change_percent NUMERIC NOT NULL DEFAULT 0,
		market_cap     TEXT,
		volume         BIGINT,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		account_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		asset_id      TEXT NOT NULL REFERENCES assets(id),
		asset_ticker  TEXT NOT NULL,
		quantity      NUMERIC NOT NULL CHECK (quantity > 0),
		average_price NUMERIC NOT NULL,
		UNIQUE (account_id, asset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		seq          BIGSERIAL,
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		asset_id     TEXT NOT NULL REFERENCES assets(id),
		asset_ticker TEXT NOT NULL,
		side         TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
		quantity     NUMERIC NOT NULL,
		price        NUMERIC NOT NULL,
		total        NUMERIC NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS trades_account_time_idx ON trades (account_id, timestamp DESC, seq DESC)`,
}

// Migrate creates the tables and indexes the store needs.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
