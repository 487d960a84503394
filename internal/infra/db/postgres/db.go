package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL
)

// Open abre la conexión con el driver pgx y crea el esquema de la outbox.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := InitPostgresOutboxSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitPostgresOutboxSchema crea la tabla 'outbox' y sus índices si no existen.
func InitPostgresOutboxSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outbox (
            id UUID PRIMARY KEY,
            reference_id UUID NOT NULL,
            aggregate_id TEXT NOT NULL,
            aggregate_type TEXT NOT NULL,
            type TEXT NOT NULL,
            payload JSONB NOT NULL,
            occurred_at TIMESTAMPTZ NOT NULL,
            processing_at TIMESTAMPTZ,
            processed_at TIMESTAMPTZ,
            error TEXT,
            retry_count INTEGER NOT NULL DEFAULT 0,
            category TEXT NOT NULL,
            correlation_id TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE INDEX IF NOT EXISTS ix_outbox_pending ON outbox (occurred_at)
            WHERE processed_at IS NULL AND processing_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS ix_outbox_reference ON outbox (reference_id)`,
		`CREATE INDEX IF NOT EXISTS ix_outbox_correlation ON outbox (correlation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
	}
	return nil
}
