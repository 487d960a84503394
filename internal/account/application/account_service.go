package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/account/domain"
	"github.com/davicafu/hexaevents/internal/shared/application/eventstore"
	sharedDomain "github.com/davicafu/hexaevents/internal/shared/domain"
	"github.com/davicafu/hexaevents/internal/shared/infra/utils"
)

// AccountService define los casos de uso relacionados con Account.
// Cada comando carga el agregado, lo muta, persiste los eventos y los encola en la outbox.
type AccountService struct {
	store  *eventstore.Store[*domain.Account]
	outbox sharedDomain.OutboxRepository
	log    *zap.Logger
}

func NewAccountService(store *eventstore.Store[*domain.Account], outbox sharedDomain.OutboxRepository, log *zap.Logger) *AccountService {
	return &AccountService{store: store, outbox: outbox, log: log}
}

func (s *AccountService) Open(ctx context.Context, customerID uuid.UUID, correlationID string) (*domain.Account, error) {
	account, err := domain.Open(customerID, eventOptions(correlationID)...)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, account); err != nil {
		return nil, err
	}
	s.log.Info("🏦 Cuenta abierta", zap.String("account_id", account.ID().String()))
	return account, nil
}

func (s *AccountService) DefineCreditLimit(ctx context.Context, id uuid.UUID, limit int64, correlationID string) (*domain.Account, error) {
	return s.execute(ctx, id, func(a *domain.Account) error {
		return a.DefineCreditLimit(limit, eventOptions(correlationID)...)
	})
}

func (s *AccountService) Activate(ctx context.Context, id uuid.UUID, correlationID string) (*domain.Account, error) {
	return s.execute(ctx, id, func(a *domain.Account) error {
		return a.Activate(eventOptions(correlationID)...)
	})
}

func (s *AccountService) Reserve(ctx context.Context, id uuid.UUID, amount int64, correlationID string) (*domain.Account, error) {
	return s.execute(ctx, id, func(a *domain.Account) error {
		return a.Reserve(amount, eventOptions(correlationID)...)
	})
}

func (s *AccountService) Block(ctx context.Context, id uuid.UUID, correlationID string) (*domain.Account, error) {
	return s.execute(ctx, id, func(a *domain.Account) error {
		return a.Block(eventOptions(correlationID)...)
	})
}

func (s *AccountService) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.store.Load(ctx, id)
}

// execute no reintenta ante ErrConcurrency: el llamador decide si recarga y repite.
func (s *AccountService) execute(ctx context.Context, id uuid.UUID, mutate func(a *domain.Account) error) (*domain.Account, error) {
	account, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(account); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// commit son dos escrituras separadas: append en la event store y encolado en la outbox.
// Si la segunda falla los eventos ya están confirmados y no se deshacen.
func (s *AccountService) commit(ctx context.Context, account *domain.Account) error {
	committed, err := s.store.AppendAggregate(ctx, account)
	if err != nil {
		return err
	}
	if len(committed) == 0 {
		return nil
	}

	msgs, err := sharedDomain.NewOutboxMessages(account.ID(), domain.AggregateType, committed, sharedDomain.CategoryDomain)
	if err == nil {
		// Save tolera duplicados, así que reintentar el lote completo es seguro.
		err = utils.Retry(ctx, 3, 50*time.Millisecond, func() error {
			return s.outbox.Save(ctx, msgs)
		}, sharedDomain.Retryable)
	}
	if err != nil {
		s.log.Error("❌ Eventos confirmados pero no encolados en la outbox",
			zap.String("account_id", account.ID().String()),
			zap.Int64("version", account.Version()),
			zap.Int("events", len(committed)),
			zap.Error(err),
		)
		return fmt.Errorf("enqueue outbox for account %s: %w", account.ID(), err)
	}
	return nil
}

func eventOptions(correlationID string) []sharedDomain.EventOption {
	if correlationID == "" {
		return nil
	}
	return []sharedDomain.EventOption{sharedDomain.WithCorrelationID(correlationID)}
}
