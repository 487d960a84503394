package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	sharedBus "github.com/davicafu/hexaevents/internal/shared/infra/platform/bus"
)

// InMemoryEventBus implementa un bus de eventos en proceso, con suscriptores por topic.
// Un suscriptor con el buffer lleno hace fallar la publicación: el mensaje vuelve
// a la outbox y se reintenta en el siguiente ciclo.
type InMemoryEventBus struct {
	subscribers map[string][]chan sharedEvents.IntegrationEvent
	mu          sync.RWMutex
	closed      bool
	once        sync.Once
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.Publisher = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]chan sharedEvents.IntegrationEvent),
	}
}

// Publish entrega el evento a todos los suscriptores de su topic sin bloquear.
func (b *InMemoryEventBus) Publish(ctx context.Context, event sharedEvents.IntegrationEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("%w: in-memory bus closed", domain.ErrDelivery)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDelivery, err)
	}

	for _, sub := range b.subscribers[event.Topic] {
		select {
		case sub <- event:
		default:
			return fmt.Errorf("%w: subscriber of topic %q is full", domain.ErrDelivery, event.Topic)
		}
	}
	return nil
}

// Subscribe suscribe un nuevo oyente a un topic.
func (b *InMemoryEventBus) Subscribe(topic string, bufferSize int) <-chan sharedEvents.IntegrationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan sharedEvents.IntegrationEvent, bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Close cierra todos los canales de suscripción. Es idempotente.
func (b *InMemoryEventBus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				close(ch)
			}
		}
	})
}
