package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

type EventRepoSQLite struct {
	db *sql.DB
}

func NewEventRepoSQLite(db *sql.DB) *EventRepoSQLite {
	return &EventRepoSQLite{db: db}
}

const eventColumns = `event_id, aggregate_id, aggregate_type, event_type, version, occurred_at, metadata, payload`

func (r *EventRepoSQLite) LastVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM events WHERE aggregate_id = ?`, aggregateID.String(),
	).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last.Int64, nil
}

func (r *EventRepoSQLite) LoadEvents(ctx context.Context, aggregateID uuid.UUID, after, upTo int64) ([]domain.EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE aggregate_id = ? AND version > ?`
	args := []any{aggregateID.String(), after}
	if upTo > 0 {
		query += ` AND version <= ?`
		args = append(args, upTo)
	}
	query += ` ORDER BY version ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// InsertEvents inserta el lote en una sola transacción: si un registro choca,
// no queda ninguno.
func (r *EventRepoSQLite) InsertEvents(ctx context.Context, records []domain.EventRecord) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %w", domain.ErrSerialization, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.EventID.String(), rec.AggregateID.String(), rec.AggregateType, rec.EventType,
			rec.Version, toUnix(rec.OccurredAt), string(metadata), string(rec.Payload),
		); err != nil {
			return translate(err)
		}
	}
	return tx.Commit()
}

func (r *EventRepoSQLite) StreamExists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM events WHERE aggregate_id = ? LIMIT 1`, aggregateID.String(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *EventRepoSQLite) DeleteEvents(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE aggregate_id = ?`, aggregateID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*domain.EventRecord, error) {
	var (
		rec                  domain.EventRecord
		eventID, aggregateID string
		occurredAt           int64
		metadata, payload    string
	)
	if err := s.Scan(&eventID, &aggregateID, &rec.AggregateType, &rec.EventType,
		&rec.Version, &occurredAt, &metadata, &payload); err != nil {
		return nil, err
	}

	var err error
	if rec.EventID, err = uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", eventID, err)
	}
	if rec.AggregateID, err = uuid.Parse(aggregateID); err != nil {
		return nil, fmt.Errorf("invalid aggregate id %q: %w", aggregateID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata of event %s: %w", domain.ErrSerialization, eventID, err)
	}
	rec.OccurredAt = fromUnix(occurredAt)
	rec.Payload = []byte(payload)
	return &rec, nil
}

var _ domain.EventRepository = (*EventRepoSQLite)(nil)
