package relayer

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	sharedBus "github.com/davicafu/hexaevents/internal/shared/infra/platform/bus"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 10
)

// CycleReport resume un ciclo de dispatch.
type CycleReport struct {
	Claimed   int
	Processed int
	Failed    int
}

// Dispatcher reclama mensajes de la outbox, los decodifica con el registro y
// los entrega al publisher. Entrega at-least-once: un fallo devuelve el mensaje a Pending.
type Dispatcher struct {
	repo        domain.OutboxRepository
	publisher   sharedBus.Publisher
	registry    *sharedEvents.Registry
	batchSize   int
	concurrency int
	log         *zap.Logger
}

func NewDispatcher(
	repo domain.OutboxRepository,
	publisher sharedBus.Publisher,
	registry *sharedEvents.Registry,
	batchSize int,
	concurrency int,
	log *zap.Logger,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		repo:        repo,
		publisher:   publisher,
		registry:    registry,
		batchSize:   batchSize,
		concurrency: concurrency,
		log:         log,
	}
}

// RunDispatchCycle procesa un lote. Solo devuelve error si falla el claim:
// los fallos por mensaje quedan registrados con MarkFailed y en el informe.
func (d *Dispatcher) RunDispatchCycle(ctx context.Context) (CycleReport, error) {
	msgs, err := d.repo.ClaimPending(ctx, d.batchSize)
	// Un claim parcial también se procesa: esos mensajes ya están en Processing.
	if err != nil && len(msgs) == 0 {
		return CycleReport{}, fmt.Errorf("claim pending: %w", err)
	}
	if err != nil {
		d.log.Warn("⚠️ Claim parcial de la outbox", zap.Int("claimed", len(msgs)), zap.Error(err))
	}
	if len(msgs) == 0 {
		return CycleReport{}, nil
	}
	d.log.Info(fmt.Sprintf("📬 %d mensajes reclamados para procesar", len(msgs)))

	var processed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			if d.process(ctx, msg) {
				processed.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := CycleReport{
		Claimed:   len(msgs),
		Processed: int(processed.Load()),
		Failed:    int(failed.Load()),
	}
	d.log.Info("✅ Ciclo de outbox terminado",
		zap.Int("claimed", report.Claimed),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
	)
	return report, err
}

// process entrega un mensaje y registra el resultado. Nunca propaga errores.
func (d *Dispatcher) process(ctx context.Context, msg domain.OutboxMessage) bool {
	// El cierre del mensaje se hace aunque el ciclo se cancele: si no, se queda en Processing.
	finishCtx := context.WithoutCancel(ctx)

	if err := d.deliver(ctx, msg); err != nil {
		d.log.Warn("⚠️ No se pudo publicar mensaje",
			zap.String("message_id", msg.ID.String()),
			zap.String("type", msg.Type),
			zap.Int("retry_count", msg.RetryCount),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Error(err),
		)
		if markErr := d.repo.MarkFailed(finishCtx, msg.ID, err.Error()); markErr != nil {
			d.log.Error("❌ No se pudo marcar mensaje como fallido",
				zap.String("message_id", msg.ID.String()),
				zap.Error(markErr),
			)
		}
		return false
	}

	if err := d.repo.MarkProcessed(finishCtx, msg.ID); err != nil {
		// Ya se publicó: se cuenta como entregado aunque quede en Processing.
		d.log.Warn("⚠️ No se pudo marcar mensaje como procesado",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
		return true
	}
	d.log.Debug("✅ Mensaje publicado y marcado", zap.String("message_id", msg.ID.String()))
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, msg domain.OutboxMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: publisher panic: %v", domain.ErrDelivery, r)
		}
	}()

	entry, ok := d.registry.Lookup(msg.Type)
	if !ok {
		return fmt.Errorf("%w: unknown event type %q", domain.ErrSerialization, msg.Type)
	}
	data, err := d.registry.Decode(msg.Type, msg.Payload)
	if err != nil {
		return err
	}
	return d.publisher.Publish(ctx, sharedEvents.FromOutbox(msg, entry, data))
}
