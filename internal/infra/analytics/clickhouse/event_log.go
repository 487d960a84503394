package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	sharedBus "github.com/davicafu/hexaevents/internal/shared/infra/platform/bus"
)

// EventLogPublisher es un destino de publicación que vuelca cada evento en la
// tabla events_log de ClickHouse para análisis.
type EventLogPublisher struct {
	db  *sql.DB
	log *zap.Logger
}

// NewEventLogPublisher abre la conexión y crea la tabla si no existe.
func NewEventLogPublisher(ctx context.Context, addr string, dbName string, log *zap.Logger) (*EventLogPublisher, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
	})

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	p := &EventLogPublisher{db: conn, log: log}
	if err := p.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *EventLogPublisher) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events_log (
			event_id       UUID,
			type           LowCardinality(String),
			topic          LowCardinality(String),
			aggregate_id   String,
			aggregate_type LowCardinality(String),
			correlation_id String,
			category       LowCardinality(String),
			retry_count    UInt32,
			data           String,
			occurred_at    DateTime64(3, 'UTC'),
			logged_at      DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(logged_at)
		ORDER BY (aggregate_type, aggregate_id, occurred_at, event_id)`)
	if err != nil {
		return fmt.Errorf("create events_log: %w", err)
	}
	return nil
}

// Publish inserta una fila. ReplacingMergeTree colapsa los reenvíos del mismo evento.
func (p *EventLogPublisher) Publish(ctx context.Context, event sharedEvents.IntegrationEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %w", domain.ErrSerialization, event.Type, err)
	}

	// ClickHouse funciona mejor con inserciones en lotes; aquí el lote es de una fila.
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: clickhouse: %w", domain.ErrDelivery, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events_log (event_id, type, topic, aggregate_id, aggregate_type,
		correlation_id, category, retry_count, data, occurred_at, logged_at)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clickhouse: %w", domain.ErrDelivery, err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx,
		event.ID,
		event.Type,
		event.Topic,
		event.AggregateID,
		event.AggregateType,
		event.CorrelationID,
		event.Category,
		uint32(event.RetryCount),
		string(data),
		event.Timestamp,
		time.Now().UTC(),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clickhouse insert %s: %w", domain.ErrDelivery, event.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: clickhouse commit: %w", domain.ErrDelivery, err)
	}

	p.log.Debug("📊 Evento registrado en ClickHouse", zap.String("event_id", event.ID.String()), zap.String("type", event.Type))
	return nil
}

func (p *EventLogPublisher) Close() error {
	return p.db.Close()
}

var _ sharedBus.Publisher = (*EventLogPublisher)(nil)
