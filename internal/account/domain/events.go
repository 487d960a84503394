package domain

import (
	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
)

// Las constantes de los tipos de evento se definen aquí, como valores string.
// Son el discriminador persistido: no se renombran.
const (
	AccountOpened      = "account.opened"
	CreditLimitDefined = "account.credit_limit_defined"
	AccountActivated   = "account.activated"
	AmountReserved     = "account.amount_reserved"
	AccountBlocked     = "account.blocked"
)

const AccountTopic = "account"

type AccountOpenedEvent struct {
	AccountID  uuid.UUID `json:"account_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}

func (AccountOpenedEvent) EventType() string { return AccountOpened }

type CreditLimitDefinedEvent struct {
	AccountID   uuid.UUID `json:"account_id"`
	CreditLimit int64     `json:"credit_limit"` // en céntimos
}

func (CreditLimitDefinedEvent) EventType() string { return CreditLimitDefined }

type AccountActivatedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
}

func (AccountActivatedEvent) EventType() string { return AccountActivated }

type AmountReservedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
}

func (AmountReservedEvent) EventType() string { return AmountReserved }

type AccountBlockedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
}

func (AccountBlockedEvent) EventType() string { return AccountBlocked }

func NewEventRegistry() *sharedEvents.Registry {
	return sharedEvents.MustRegistry(
		sharedEvents.Entry{Type: AccountOpened, Topic: AccountTopic, New: func() domain.EventData { return &AccountOpenedEvent{} }},
		sharedEvents.Entry{Type: CreditLimitDefined, Topic: AccountTopic, New: func() domain.EventData { return &CreditLimitDefinedEvent{} }},
		sharedEvents.Entry{Type: AccountActivated, Topic: AccountTopic, New: func() domain.EventData { return &AccountActivatedEvent{} }},
		sharedEvents.Entry{Type: AmountReserved, Topic: AccountTopic, New: func() domain.EventData { return &AmountReservedEvent{} }},
		sharedEvents.Entry{Type: AccountBlocked, Topic: AccountTopic, New: func() domain.EventData { return &AccountBlockedEvent{} }},
	)
}
