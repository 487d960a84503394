package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// OutboxRepoSQLite implementa la interfaz domain.OutboxRepository.
type OutboxRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const outboxColumns = `id, reference_id, aggregate_id, aggregate_type, type, payload, occurred_at,
    processing_at, processed_at, error, retry_count, category, correlation_id`

// Save inserta cada mensaje por separado: un fallo no impide guardar el resto.
// Un id ya existente se ignora, así que reenviar el mismo lote es seguro.
func (r *OutboxRepoSQLite) Save(ctx context.Context, messages []domain.OutboxMessage) error {
	var errs []error
	for _, m := range messages {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO outbox (`+outboxColumns+`) VALUES (?,?,?,?,?,?,?,NULL,NULL,NULL,0,?,?)
             ON CONFLICT(id) DO NOTHING`,
			m.ID.String(), m.ReferenceID.String(), m.AggregateID, m.AggregateType, m.Type,
			string(m.Payload), toUnix(m.OccurredAt), m.Category, m.CorrelationID,
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert outbox %s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ClaimPending reclama los mensajes de uno en uno: cada UPDATE ... RETURNING es
// atómico, así que dos dispatchers nunca obtienen el mismo mensaje.
// Una fila reclamada que no se puede leer se devuelve a Pending como fallida y se
// salta en el resto del claim; el error acompaña a los mensajes ya reclamados.
func (r *OutboxRepoSQLite) ClaimPending(ctx context.Context, batchSize int) ([]domain.OutboxMessage, error) {
	var (
		claimed []domain.OutboxMessage
		errs    []error
	)
	skipped := []string{}
	for len(claimed) < batchSize {
		skip, err := json.Marshal(skipped)
		if err != nil {
			return claimed, err
		}
		row := r.db.QueryRowContext(ctx,
			`UPDATE outbox SET processing_at = ?
             WHERE id = (
                 SELECT id FROM outbox
                 WHERE processed_at IS NULL AND processing_at IS NULL
                   AND id NOT IN (SELECT value FROM json_each(?))
                 ORDER BY occurred_at
                 LIMIT 1
             ) AND processing_at IS NULL
             RETURNING `+outboxColumns,
			toUnix(r.now()), string(skip),
		)
		raw, err := scanOutboxRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("claim outbox: %w", err))
			return claimed, errors.Join(errs...)
		}
		msg, err := raw.decode()
		if err != nil {
			skipped = append(skipped, raw.id)
			errs = append(errs, r.release(ctx, raw.id, err))
			continue
		}
		claimed = append(claimed, *msg)
	}
	return claimed, errors.Join(errs...)
}

// release devuelve a Pending, como fallida, una fila reclamada que no se pudo leer.
func (r *OutboxRepoSQLite) release(ctx context.Context, id string, cause error) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET processing_at = NULL, error = ?, retry_count = retry_count + 1 WHERE id = ?`,
		cause.Error(), id,
	)
	if err != nil {
		return fmt.Errorf("outbox row %s: %w (release failed, row left in processing: %v)", id, cause, err)
	}
	return fmt.Errorf("outbox row %s released as failed: %w", id, cause)
}

func (r *OutboxRepoSQLite) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET processed_at = ?, processing_at = NULL, error = NULL WHERE id = ?`,
		toUnix(r.now()), id.String(),
	)
	return checkAffected(res, err, id)
}

func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET processing_at = NULL, error = ?, retry_count = retry_count + 1 WHERE id = ?`,
		reason, id.String(),
	)
	return checkAffected(res, err, id)
}

// Get es de apoyo para tests y diagnóstico.
func (r *OutboxRepoSQLite) Get(ctx context.Context, id uuid.UUID) (*domain.OutboxMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE id = ?`, id.String())
	msg, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return msg, err
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

// outboxRow son las columnas tal cual salen de SQLite, antes de validarlas.
type outboxRow struct {
	msg                       domain.OutboxMessage
	id, referenceID, payload  string
	occurredAt                int64
	processingAt, processedAt sql.NullInt64
	lastError                 sql.NullString
}

func scanOutboxRow(s scanner) (*outboxRow, error) {
	var row outboxRow
	if err := s.Scan(&row.id, &row.referenceID, &row.msg.AggregateID, &row.msg.AggregateType, &row.msg.Type,
		&row.payload, &row.occurredAt, &row.processingAt, &row.processedAt, &row.lastError,
		&row.msg.RetryCount, &row.msg.Category, &row.msg.CorrelationID); err != nil {
		return nil, err
	}
	return &row, nil
}

func (row *outboxRow) decode() (*domain.OutboxMessage, error) {
	msg := row.msg
	var err error
	if msg.ID, err = uuid.Parse(row.id); err != nil {
		return nil, fmt.Errorf("invalid UUID in outbox row: %w", err)
	}
	if msg.ReferenceID, err = uuid.Parse(row.referenceID); err != nil {
		return nil, fmt.Errorf("invalid reference id in outbox row %s: %w", row.id, err)
	}
	msg.Payload = []byte(row.payload)
	msg.OccurredAt = fromUnix(row.occurredAt)
	msg.ProcessingAt = fromNullUnix(row.processingAt)
	msg.ProcessedAt = fromNullUnix(row.processedAt)
	if row.lastError.Valid {
		msg.Error = &row.lastError.String
	}
	return &msg, nil
}

func scanOutbox(s scanner) (*domain.OutboxMessage, error) {
	row, err := scanOutboxRow(s)
	if err != nil {
		return nil, err
	}
	return row.decode()
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoSQLite)(nil)
