package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

const AggregateType = "account"

type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusBlocked  Status = "blocked"
)

var (
	ErrCustomerRequired    = errors.New("customer id is required")
	ErrNegativeCreditLimit = errors.New("credit limit must be greater than or equal to zero")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrAlreadyActive       = errors.New("account is already active")
	ErrAccountBlocked      = errors.New("account is blocked")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// Account es una cuenta con saldo disponible, saldo reservado y límite de crédito.
// Los importes van en céntimos.
type Account struct {
	domain.AggregateRoot

	CustomerID       uuid.UUID
	AvailableBalance int64
	ReservedBalance  int64
	CreditLimit      int64
	Status           Status
}

// New devuelve una cuenta vacía, lista para reidratar desde el historial.
func New() *Account {
	return &Account{Status: StatusInactive}
}

// Open crea la cuenta y registra AccountOpened.
func Open(customerID uuid.UUID, opts ...domain.EventOption) (*Account, error) {
	if customerID == uuid.Nil {
		return nil, ErrCustomerRequired
	}
	a := New()
	id := uuid.New()
	if err := domain.RecordEvent(a, domain.NewDomainEvent(&AccountOpenedEvent{AccountID: id, CustomerID: customerID}, opts...)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) DefineCreditLimit(limit int64, opts ...domain.EventOption) error {
	if limit < 0 {
		return ErrNegativeCreditLimit
	}
	return domain.RecordEvent(a, domain.NewDomainEvent(&CreditLimitDefinedEvent{AccountID: a.ID(), CreditLimit: limit}, opts...))
}

func (a *Account) Activate(opts ...domain.EventOption) error {
	switch a.Status {
	case StatusActive:
		return ErrAlreadyActive
	case StatusBlocked:
		return ErrAccountBlocked
	}
	return domain.RecordEvent(a, domain.NewDomainEvent(&AccountActivatedEvent{AccountID: a.ID()}, opts...))
}

func (a *Account) Reserve(amount int64, opts ...domain.EventOption) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.AvailableBalance+a.CreditLimit < amount {
		return ErrInsufficientFunds
	}
	return domain.RecordEvent(a, domain.NewDomainEvent(&AmountReservedEvent{AccountID: a.ID(), Amount: amount}, opts...))
}

func (a *Account) Block(opts ...domain.EventOption) error {
	if a.Status == StatusBlocked {
		return ErrAccountBlocked
	}
	return domain.RecordEvent(a, domain.NewDomainEvent(&AccountBlockedEvent{AccountID: a.ID()}, opts...))
}

// ------------------ domain.Aggregate ------------------

func (a *Account) Root() *domain.AggregateRoot { return &a.AggregateRoot }

func (a *Account) AggregateType() string { return AggregateType }

func (a *Account) When(evt domain.DomainEvent) error {
	switch e := evt.Payload.(type) {
	case *AccountOpenedEvent:
		if err := a.InitID(e.AccountID); err != nil {
			return err
		}
		a.CustomerID = e.CustomerID
		a.AvailableBalance = 0
		a.ReservedBalance = 0
		a.CreditLimit = 0
		a.Status = StatusInactive
	case *CreditLimitDefinedEvent:
		a.CreditLimit = e.CreditLimit
	case *AccountActivatedEvent:
		a.Status = StatusActive
	case *AmountReservedEvent:
		a.ReservedBalance += e.Amount
		a.AvailableBalance -= e.Amount
	case *AccountBlockedEvent:
		a.Status = StatusBlocked
	default:
		return fmt.Errorf("unexpected event %T for account", evt.Payload)
	}
	return nil
}

func (a *Account) ValidateInvariants() error {
	switch {
	case a.ID() == uuid.Nil:
		return errors.New("invalid account id")
	case a.CustomerID == uuid.Nil:
		return errors.New("invalid customer id")
	case a.AvailableBalance < -a.CreditLimit:
		return errors.New("available balance exceeds the credit limit")
	case a.ReservedBalance < 0:
		return errors.New("reserved balance cannot be negative")
	case a.CreditLimit < 0:
		return errors.New("invalid credit limit")
	}
	return nil
}

// ------------------ domain.Snapshotter ------------------

type accountSnapshot struct {
	ID               uuid.UUID `json:"id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	AvailableBalance int64     `json:"available_balance"`
	ReservedBalance  int64     `json:"reserved_balance"`
	CreditLimit      int64     `json:"credit_limit"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (a *Account) SnapshotState() (any, error) {
	return accountSnapshot{
		ID:               a.ID(),
		CustomerID:       a.CustomerID,
		AvailableBalance: a.AvailableBalance,
		ReservedBalance:  a.ReservedBalance,
		CreditLimit:      a.CreditLimit,
		Status:           a.Status,
		CreatedAt:        a.CreatedAt(),
		UpdatedAt:        a.UpdatedAt(),
	}, nil
}

func (a *Account) RestoreSnapshot(data []byte) error {
	var s accountSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if err := a.InitID(s.ID); err != nil {
		return err
	}
	a.CustomerID = s.CustomerID
	a.AvailableBalance = s.AvailableBalance
	a.ReservedBalance = s.ReservedBalance
	a.CreditLimit = s.CreditLimit
	a.Status = s.Status
	a.RestoreTimestamps(s.CreatedAt, s.UpdatedAt)
	return nil
}

var (
	_ domain.Aggregate   = (*Account)(nil)
	_ domain.Snapshotter = (*Account)(nil)
)
