package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noted struct {
	Text string `json:"text"`
}

func (noted) EventType() string { return "note.added" }

type unencodable struct {
	Ch chan int `json:"ch"`
}

func (unencodable) EventType() string { return "note.broken" }

func TestNewOutboxMessage(t *testing.T) {
	aggregateID := uuid.New()
	evt := NewDomainEvent(&noted{Text: "hola"}, WithCorrelationID("corr-1"))

	msg, err := NewOutboxMessage(aggregateID, "note", evt, CategoryIntegration)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.NotEqual(t, evt.EventID, msg.ID)
	assert.Equal(t, evt.EventID, msg.ReferenceID)
	assert.Equal(t, aggregateID.String(), msg.AggregateID)
	assert.Equal(t, "note.added", msg.Type)
	assert.JSONEq(t, `{"text":"hola"}`, string(msg.Payload))
	assert.Equal(t, evt.OccurredAt, msg.OccurredAt)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, CategoryIntegration, msg.Category)
	assert.Equal(t, OutboxPending, msg.Status())
}

func TestNewOutboxMessage_SerializationFailure(t *testing.T) {
	evt := NewDomainEvent(&unencodable{Ch: make(chan int)})

	_, err := NewOutboxMessages(uuid.New(), "note", []DomainEvent{evt}, CategoryDomain)

	assert.ErrorIs(t, err, ErrSerialization)
}

func TestOutboxMessage_Status(t *testing.T) {
	now := time.Now()
	msg := OutboxMessage{}
	assert.Equal(t, OutboxPending, msg.Status())

	msg.ProcessingAt = &now
	assert.Equal(t, OutboxProcessing, msg.Status())

	msg.ProcessedAt = &now
	assert.Equal(t, OutboxProcessed, msg.Status())
}
