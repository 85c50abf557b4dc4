package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	codesTable     = "mail2fa_codes"
	logsTable      = "mail2fa_logs"
	templatesTable = "mail2fa_templates"

	deleteBatchSize = 1000
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + codesTable + ` (
		id         TEXT PRIMARY KEY,
		identity   TEXT NOT NULL,
		code_hash  CHAR(64) NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + codesTable + `_identity_uidx ON ` + codesTable + ` (identity)`,
	`CREATE INDEX IF NOT EXISTS ` + codesTable + `_identity_expires_idx ON ` + codesTable + ` (identity, expires_at)`,
	`CREATE INDEX IF NOT EXISTS ` + codesTable + `_expires_idx ON ` + codesTable + ` (expires_at)`,
	`CREATE TABLE IF NOT EXISTS ` + logsTable + ` (
		id         BIGSERIAL PRIMARY KEY,
		identity   TEXT NOT NULL,
		action     VARCHAR(50) NOT NULL,
		ip_address TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	// Tables created before the column was widened.
	`ALTER TABLE ` + logsTable + ` ALTER COLUMN ip_address TYPE TEXT`,
	`CREATE INDEX IF NOT EXISTS ` + logsTable + `_identity_created_idx ON ` + logsTable + ` (identity, created_at)`,
	`CREATE INDEX IF NOT EXISTS ` + logsTable + `_created_idx ON ` + logsTable + ` (created_at)`,
	`CREATE TABLE IF NOT EXISTS ` + templatesTable + ` (
		name       TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables and indexes if they do not exist. It is safe to run
// from every process on start-up.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore migrate: %w", err)
		}
	}
	return nil
}

// Open parses dsn, connects and pings. Pool sizing mirrors a small auth service.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore ping: %w", err)
	}
	return pool, nil
}
