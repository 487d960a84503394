package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// OutboxRepoPostgres implementa la interfaz domain.OutboxRepository.
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

const outboxColumns = `id, reference_id, aggregate_id, aggregate_type, type, payload, occurred_at,
    processing_at, processed_at, error, retry_count, category, correlation_id`

// Save inserta cada mensaje por separado: un fallo no impide guardar el resto.
// Un id ya existente se ignora, así que reenviar el mismo lote es seguro.
func (r *OutboxRepoPostgres) Save(ctx context.Context, messages []domain.OutboxMessage) error {
	var errs []error
	for _, m := range messages {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO outbox (`+outboxColumns+`)
             VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,NULL,NULL,0,$8,$9)
             ON CONFLICT (id) DO NOTHING`,
			m.ID, m.ReferenceID, m.AggregateID, m.AggregateType, m.Type,
			string(m.Payload), m.OccurredAt, m.Category, m.CorrelationID,
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert outbox %s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ClaimPending reclama el lote en una sola sentencia. FOR UPDATE SKIP LOCKED hace
// que dos dispatchers concurrentes se repartan filas distintas sin esperarse.
// El claim va en una transacción: si alguna fila no se puede leer, se deshace entero
// y ningún mensaje queda en Processing sin dueño.
func (r *OutboxRepoPostgres) ClaimPending(ctx context.Context, batchSize int) (claimed []domain.OutboxMessage, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			claimed = nil
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`UPDATE outbox SET processing_at = now()
         WHERE id IN (
             SELECT id FROM outbox
             WHERE processed_at IS NULL AND processing_at IS NULL
             ORDER BY occurred_at
             LIMIT $1
             FOR UPDATE SKIP LOCKED
         )
         RETURNING `+outboxColumns,
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("claim outbox: %w", err)
		}
		claimed = append(claimed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	// RETURNING no respeta el ORDER BY de la subconsulta.
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].OccurredAt.Before(claimed[j].OccurredAt) })
	return claimed, nil
}

func (r *OutboxRepoPostgres) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET processed_at = now(), processing_at = NULL, error = NULL WHERE id = $1`, id,
	)
	return checkAffected(res, err, id)
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET processing_at = NULL, error = $2, retry_count = retry_count + 1 WHERE id = $1`, id, reason,
	)
	return checkAffected(res, err, id)
}

func checkAffected(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: outbox message %s", domain.ErrNotFound, id)
	}
	return nil
}

func scanOutbox(rows *sql.Rows) (domain.OutboxMessage, error) {
	var (
		msg                       domain.OutboxMessage
		payload                   []byte // El payload se lee como JSONB
		processingAt, processedAt sql.NullTime
		lastError                 sql.NullString
	)
	if err := rows.Scan(&msg.ID, &msg.ReferenceID, &msg.AggregateID, &msg.AggregateType, &msg.Type, &payload,
		&msg.OccurredAt, &processingAt, &processedAt, &lastError, &msg.RetryCount,
		&msg.Category, &msg.CorrelationID); err != nil {
		return domain.OutboxMessage{}, err
	}
	msg.Payload = payload
	msg.OccurredAt = msg.OccurredAt.UTC()
	msg.ProcessingAt = nullTime(processingAt)
	msg.ProcessedAt = nullTime(processedAt)
	if lastError.Valid {
		msg.Error = &lastError.String
	}
	return msg, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoPostgres)(nil)
