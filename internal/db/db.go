package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New creates a new database connection.
// The caller must import a PostgreSQL driver (e.g., _ "github.com/lib/pq").
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505). The partial index on protocol_runs turns a
// concurrent second active run into exactly this error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS protocols (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    steps         JSONB NOT NULL,
    tags          JSONB NOT NULL DEFAULT '[]',
    total_minutes INTEGER NOT NULL DEFAULT 0,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    run_count     INTEGER NOT NULL DEFAULT 0,
    last_run_at   TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_protocols_owner_name
    ON protocols (owner_id, lower(name));

CREATE TABLE IF NOT EXISTS protocol_runs (
    id            TEXT PRIMARY KEY,
    protocol_id   TEXT NOT NULL REFERENCES protocols(id),
    protocol_name TEXT NOT NULL,
    owner_id      TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'in_progress',
    current_step  INTEGER NOT NULL DEFAULT 0,
    steps         JSONB NOT NULL,
    notes         TEXT NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at  TIMESTAMPTZ
);

-- At most one in-progress run per owner, enforced by the database itself.
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_one_active_per_owner
    ON protocol_runs (owner_id) WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS idx_runs_owner_started
    ON protocol_runs (owner_id, started_at DESC);

CREATE TABLE IF NOT EXISTS schedules (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL,
    protocol_name TEXT NOT NULL,
    cron_expr     TEXT NOT NULL,
    timezone      TEXT NOT NULL DEFAULT 'UTC',
    enabled       BOOLEAN NOT NULL DEFAULT TRUE,
    next_run_at   TIMESTAMPTZ NOT NULL,
    last_run_at   TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_schedules_owner ON schedules(owner_id);
`
