package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
)

func TestInMemoryEventBus_RoutesByTopic(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()
	accounts := bus.Subscribe("account", 1)
	others := bus.Subscribe("other", 1)

	evt := sharedEvents.IntegrationEvent{ID: uuid.New(), Type: "account.opened", Topic: "account"}
	require.NoError(t, bus.Publish(context.Background(), evt))

	got := <-accounts
	assert.Equal(t, evt.ID, got.ID)
	assert.Empty(t, others)
}

func TestInMemoryEventBus_FullSubscriberFails(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()
	bus.Subscribe("account", 1)
	evt := sharedEvents.IntegrationEvent{ID: uuid.New(), Topic: "account"}

	require.NoError(t, bus.Publish(context.Background(), evt))
	err := bus.Publish(context.Background(), evt)

	assert.ErrorIs(t, err, domain.ErrDelivery)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus()
	ch := bus.Subscribe("account", 1)
	bus.Close()
	bus.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, bus.Publish(context.Background(), sharedEvents.IntegrationEvent{Topic: "account"}), domain.ErrDelivery)
}
