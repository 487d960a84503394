package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

func newActiveAccount(t *testing.T, limit int64) *Account {
	t.Helper()
	a, err := Open(uuid.New())
	require.NoError(t, err)
	require.NoError(t, a.DefineCreditLimit(limit))
	require.NoError(t, a.Activate())
	return a
}

func TestOpen_RecordsAccountOpened(t *testing.T) {
	customer := uuid.New()

	a, err := Open(customer, domain.WithCorrelationID("corr-1"))

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID())
	assert.Equal(t, customer, a.CustomerID)
	assert.Equal(t, StatusInactive, a.Status)
	assert.Equal(t, int64(1), a.Version())
	assert.Equal(t, int64(0), a.OriginalVersion())

	pending := a.UncommittedEvents()
	require.Len(t, pending, 1)
	assert.Equal(t, AccountOpened, pending[0].EventType)
	assert.Equal(t, "corr-1", pending[0].CorrelationID())
	assert.Equal(t, pending[0].OccurredAt, a.CreatedAt())
}

func TestOpen_RequiresCustomer(t *testing.T) {
	_, err := Open(uuid.Nil)
	assert.ErrorIs(t, err, ErrCustomerRequired)
}

func TestAccount_Guards(t *testing.T) {
	tests := []struct {
		name     string
		act      func(a *Account) error
		expected error
	}{
		{
			name:     "límite negativo",
			act:      func(a *Account) error { return a.DefineCreditLimit(-1) },
			expected: ErrNegativeCreditLimit,
		},
		{
			name:     "activar dos veces",
			act:      func(a *Account) error { return a.Activate() },
			expected: ErrAlreadyActive,
		},
		{
			name: "activar bloqueada",
			act: func(a *Account) error {
				require.NoError(t, a.Block())
				return a.Activate()
			},
			expected: ErrAccountBlocked,
		},
		{
			name: "bloquear dos veces",
			act: func(a *Account) error {
				require.NoError(t, a.Block())
				return a.Block()
			},
			expected: ErrAccountBlocked,
		},
		{
			name:     "reserva sin saldo ni límite",
			act:      func(a *Account) error { return a.Reserve(501) },
			expected: ErrInsufficientFunds,
		},
		{
			name:     "reserva no positiva",
			act:      func(a *Account) error { return a.Reserve(0) },
			expected: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newActiveAccount(t, 500)
			before := a.Version()

			err := tt.act(a)

			assert.ErrorIs(t, err, tt.expected)
			if tt.expected != ErrAccountBlocked {
				assert.Equal(t, before, a.Version())
			}
		})
	}
}

func TestReserve_UsesCreditLimit(t *testing.T) {
	a := newActiveAccount(t, 500)

	require.NoError(t, a.Reserve(300))
	require.NoError(t, a.Reserve(200))

	assert.Equal(t, int64(-500), a.AvailableBalance)
	assert.Equal(t, int64(500), a.ReservedBalance)
	assert.ErrorIs(t, a.Reserve(1), ErrInsufficientFunds)
}

func TestMarkEventsAsCommitted_StampsVersions(t *testing.T) {
	a := newActiveAccount(t, 100)

	committed, err := a.Root().MarkEventsAsCommittedAt(0)

	require.NoError(t, err)
	require.Len(t, committed, 3)
	for i, evt := range committed {
		assert.Equal(t, int64(i+1), evt.Version)
	}
	assert.False(t, a.HasUncommittedEvents())
	assert.Equal(t, int64(3), a.Version())
	assert.Equal(t, int64(3), a.OriginalVersion())
}

func TestMarkEventsAsCommitted_WrongExpectedVersion(t *testing.T) {
	a := newActiveAccount(t, 100)

	_, err := a.Root().MarkEventsAsCommittedAt(2)

	assert.ErrorIs(t, err, domain.ErrConcurrency)
	assert.True(t, a.HasUncommittedEvents())
}

func TestLoadFromHistory_RebuildsState(t *testing.T) {
	// Arrange
	source := newActiveAccount(t, 1000)
	require.NoError(t, source.Reserve(250))
	history, err := source.Root().MarkEventsAsCommittedAt(0)
	require.NoError(t, err)

	// Act
	replayed := New()
	err = domain.LoadFromHistory(replayed, history)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, source.ID(), replayed.ID())
	assert.Equal(t, source.CustomerID, replayed.CustomerID)
	assert.Equal(t, int64(-250), replayed.AvailableBalance)
	assert.Equal(t, int64(250), replayed.ReservedBalance)
	assert.Equal(t, StatusActive, replayed.Status)
	assert.Equal(t, int64(4), replayed.Version())
	assert.Equal(t, int64(4), replayed.OriginalVersion())
	assert.False(t, replayed.HasUncommittedEvents())
	assert.Equal(t, source.CreatedAt(), replayed.CreatedAt())
	assert.Equal(t, source.UpdatedAt(), replayed.UpdatedAt())
}

func TestApplyFromHistory_IgnoresRepeatedEvent(t *testing.T) {
	source := newActiveAccount(t, 1000)
	require.NoError(t, source.Reserve(100))
	history := source.Root().MarkEventsAsCommitted()

	replayed := New()
	require.NoError(t, domain.LoadFromHistory(replayed, history))
	require.NoError(t, domain.ApplyFromHistory(replayed, history[3]))

	assert.Equal(t, int64(100), replayed.ReservedBalance)
	assert.Equal(t, int64(4), replayed.Version())
}

func TestRecordEvent_RejectsInvariantViolation(t *testing.T) {
	a := newActiveAccount(t, 0)

	err := domain.RecordEvent(a, domain.NewDomainEvent(&AmountReservedEvent{AccountID: a.ID(), Amount: 10}))

	assert.ErrorIs(t, err, domain.ErrInvariant)
	assert.Equal(t, domain.KindInvariant, domain.KindOf(err))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	source := newActiveAccount(t, 700)
	require.NoError(t, source.Reserve(70))
	source.Root().MarkEventsAsCommitted()

	state, err := source.SnapshotState()
	require.NoError(t, err)
	data, err := json.Marshal(state)
	require.NoError(t, err)

	restored := New()
	require.NoError(t, domain.RestoreFromSnapshot(restored, data, source.Version()))

	assert.Equal(t, source.ID(), restored.ID())
	assert.Equal(t, source.CreditLimit, restored.CreditLimit)
	assert.Equal(t, source.ReservedBalance, restored.ReservedBalance)
	assert.Equal(t, source.Status, restored.Status)
	assert.Equal(t, int64(4), restored.Version())
	assert.Equal(t, int64(4), restored.OriginalVersion())
	assert.True(t, source.CreatedAt().Equal(restored.CreatedAt()))
}

func TestRegistry_DecodesEveryTag(t *testing.T) {
	reg := NewEventRegistry()

	assert.Equal(t, []string{AccountActivated, AmountReserved, AccountBlocked, CreditLimitDefined, AccountOpened}, reg.Types())
	data, err := reg.Decode(AmountReserved, []byte(`{"account_id":"`+uuid.Nil.String()+`","amount":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), data.(*AmountReservedEvent).Amount)

	_, err = reg.Decode("account.unknown", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrSerialization)
}
