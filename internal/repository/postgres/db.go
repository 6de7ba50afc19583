package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/selfauth-gateway/internal/infra"
)

// Schema - минимальная схема: выданные ключи и журнал решений шлюза.
const Schema = `
CREATE TABLE IF NOT EXISTS granted_actions (
	action_id  TEXT PRIMARY KEY,
	granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL,
	caller      TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	selector    TEXT NOT NULL DEFAULT '',
	action_id   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_logs_timestamp_idx ON audit_logs (timestamp);
`

// Open открывает пул через pgx stdlib. Соединение проверяется в main через Ping.
func Open(cfg infra.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: database.url is required")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}
	return db, nil
}

// Migrate применяет схему. Все выражения идемпотентны.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
