package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// Open abre la base y crea el esquema. SQLite serializa las escrituras:
// con una sola conexión evitamos SQLITE_BUSY entre goroutines del mismo proceso.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	if err := InitSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitSQLite crea las tablas de eventos, snapshots y outbox si no existen.
func InitSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
            event_id TEXT PRIMARY KEY,
            aggregate_id TEXT NOT NULL,
            aggregate_type TEXT NOT NULL,
            event_type TEXT NOT NULL,
            version INTEGER NOT NULL,
            occurred_at INTEGER NOT NULL,
            metadata TEXT NOT NULL,
            payload TEXT NOT NULL
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_event_stream ON events (aggregate_id, version)`,
		`CREATE INDEX IF NOT EXISTS ix_event_type ON events (event_type)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
            aggregate_id TEXT PRIMARY KEY,
            snapshot_type TEXT NOT NULL,
            version INTEGER NOT NULL,
            payload TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS outbox (
            id TEXT PRIMARY KEY,
            reference_id TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            aggregate_type TEXT NOT NULL,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            occurred_at INTEGER NOT NULL,
            processing_at INTEGER,
            processed_at INTEGER,
            error TEXT,
            retry_count INTEGER NOT NULL DEFAULT 0,
            category TEXT NOT NULL,
            correlation_id TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE INDEX IF NOT EXISTS ix_outbox_pending ON outbox (processed_at, processing_at, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS ix_outbox_reference ON outbox (reference_id)`,
		`CREATE INDEX IF NOT EXISTS ix_outbox_correlation ON outbox (correlation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation detecta choques con PRIMARY KEY o índices UNIQUE.
func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func translate(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", domain.ErrDuplicate, err)
	}
	return err
}

// Los instantes se guardan como nanosegundos unix en UTC.
func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}
