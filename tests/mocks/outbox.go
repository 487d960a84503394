package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	sharedBus "github.com/davicafu/hexaevents/internal/shared/infra/platform/bus"
)

// MockOutboxRepository simula la outbox con expectativas de testify.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Save(ctx context.Context, messages []domain.OutboxMessage) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, batchSize int) ([]domain.OutboxMessage, error) {
	args := m.Called(ctx, batchSize)
	msgs, _ := args.Get(0).([]domain.OutboxMessage)
	return msgs, args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// MockPublisher simula un destino de publicación
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event sharedEvents.IntegrationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// InMemoryOutboxRepo es una outbox en memoria con la misma máquina de estados que las reales.
type InMemoryOutboxRepo struct {
	Messages map[uuid.UUID]*domain.OutboxMessage
	order    []uuid.UUID
	// SaveErr, si no es nil, se devuelve en Save sin guardar nada.
	SaveErr   error
	SaveCalls int
	mu        sync.Mutex
}

func NewInMemoryOutboxRepo() *InMemoryOutboxRepo {
	return &InMemoryOutboxRepo{Messages: make(map[uuid.UUID]*domain.OutboxMessage)}
}

func (r *InMemoryOutboxRepo) Save(ctx context.Context, messages []domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SaveCalls++
	if r.SaveErr != nil {
		return r.SaveErr
	}
	for _, m := range messages {
		if _, ok := r.Messages[m.ID]; ok {
			continue
		}
		msg := m
		r.Messages[m.ID] = &msg
		r.order = append(r.order, m.ID)
	}
	return nil
}

func (r *InMemoryOutboxRepo) ClaimPending(ctx context.Context, batchSize int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboxMessage
	for _, id := range r.order {
		if len(out) == batchSize {
			break
		}
		m := r.Messages[id]
		if m.Status() != domain.OutboxPending {
			continue
		}
		now := time.Now().UTC()
		m.ProcessingAt = &now
		out = append(out, *m)
	}
	return out, nil
}

func (r *InMemoryOutboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Messages[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	m.ProcessedAt = &now
	m.ProcessingAt = nil
	m.Error = nil
	return nil
}

func (r *InMemoryOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.Messages[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.ProcessingAt = nil
	m.Error = &reason
	m.RetryCount++
	return nil
}

// All devuelve copias en orden de inserción.
func (r *InMemoryOutboxRepo) All() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboxMessage, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.Messages[id])
	}
	return out
}

// Verificación estática de que los mocks cumplen las interfaces.
var (
	_ domain.OutboxRepository = (*MockOutboxRepository)(nil)
	_ domain.OutboxRepository = (*InMemoryOutboxRepo)(nil)
	_ sharedBus.Publisher     = (*MockPublisher)(nil)
)
