package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
)

type tickEvent struct {
	Value int `json:"value"`
}

func (tickEvent) EventType() string { return "metrics.ticked" }

func tickRegistry() *sharedEvents.Registry {
	return sharedEvents.MustRegistry(sharedEvents.Entry{
		Type:  "metrics.ticked",
		Topic: "metrics",
		New:   func() domain.EventData { return &tickEvent{} },
	})
}

// fakeReader entrega los mensajes en orden y después bloquea hasta que se cancela ctx.
type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func envelope(t *testing.T, offset int64, value int) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(sharedEvents.IntegrationEvent{
		ID:   uuid.New(),
		Type: "metrics.ticked",
		Data: &tickEvent{Value: value},
	})
	require.NoError(t, err)
	return kafka.Message{Topic: "metrics", Offset: offset, Value: raw}
}

func runConsumer(t *testing.T, reader *fakeReader, handler EventHandler, wantCommits int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	consumer := NewConsumerAdapter(reader, tickRegistry(), handler, zap.NewNop())
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.Committed()) == wantCommits }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestConsumerAdapter_DecodesAndCommits(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{envelope(t, 1, 10), envelope(t, 2, 20)}}
	var (
		mu  sync.Mutex
		got []int
	)
	handler := EventHandlerFunc(func(ctx context.Context, e sharedEvents.IntegrationEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Data.(*tickEvent).Value)
		assert.Equal(t, "metrics", e.Topic)
		return nil
	})

	runConsumer(t, reader, handler, 2)

	assert.Equal(t, []int{10, 20}, got)
	assert.Equal(t, []int64{1, 2}, reader.Committed())
}

func TestConsumerAdapter_SkipsUndecodableMessages(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{
		{Topic: "metrics", Offset: 1, Value: []byte(`{"type":"metrics.unknown","data":{}}`)},
		envelope(t, 2, 5),
	}}
	calls := 0
	handler := EventHandlerFunc(func(ctx context.Context, e sharedEvents.IntegrationEvent) error {
		calls++
		return nil
	})

	runConsumer(t, reader, handler, 2)

	assert.Equal(t, 1, calls)
}

func TestConsumerAdapter_RetriesHandlerThenMovesOn(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{envelope(t, 7, 1)}}
	attempts := 0
	handler := EventHandlerFunc(func(ctx context.Context, e sharedEvents.IntegrationEvent) error {
		attempts++
		return errors.New("projection down")
	})

	runConsumer(t, reader, handler, 1)

	assert.Equal(t, handlerAttempts, attempts)
	assert.Equal(t, []int64{7}, reader.Committed())
}

func TestConsumerAdapter_InvariantFailureIsNotRetried(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{envelope(t, 3, 1)}}
	attempts := 0
	handler := EventHandlerFunc(func(ctx context.Context, e sharedEvents.IntegrationEvent) error {
		attempts++
		return fmt.Errorf("%w: balance below zero", domain.ErrInvariant)
	})

	runConsumer(t, reader, handler, 1)

	assert.Equal(t, 1, attempts)
	assert.Equal(t, []int64{3}, reader.Committed())
}

func TestConsumeChan_StopsWhenChannelCloses(t *testing.T) {
	bus := NewInMemoryEventBus()
	ch := bus.Subscribe("metrics", 2)
	require.NoError(t, bus.Publish(context.Background(), sharedEvents.IntegrationEvent{ID: uuid.New(), Topic: "metrics"}))
	require.NoError(t, bus.Publish(context.Background(), sharedEvents.IntegrationEvent{ID: uuid.New(), Topic: "metrics"}))
	bus.Close()

	seen := 0
	ConsumeChan(context.Background(), ch, EventHandlerFunc(func(ctx context.Context, e sharedEvents.IntegrationEvent) error {
		seen++
		return nil
	}), zap.NewNop())

	assert.Equal(t, 2, seen)
}
