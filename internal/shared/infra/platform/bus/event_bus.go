package bus

import (
	"context"

	"github.com/davicafu/hexaevents/internal/shared/domain/events"
)

type Keyer interface {
	PartitionKey() string
}

// Publisher es el destino de publicación del dispatcher.
// La semántica de topic/nombre y formato del payload la deciden los adapters.
// Un error devuelto significa que la entrega falló; nunca debe hacer panic.
type Publisher interface {
	Publish(ctx context.Context, event events.IntegrationEvent) error
}

// PublisherFunc adapta una función a Publisher.
type PublisherFunc func(ctx context.Context, event events.IntegrationEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event events.IntegrationEvent) error {
	return f(ctx, event)
}

var _ Keyer = events.IntegrationEvent{}
