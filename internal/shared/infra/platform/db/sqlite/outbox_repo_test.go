package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

func newTestDB(t *testing.T) *OutboxRepoSQLite {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOutboxRepoSQLite(db)
}

func pendingMessage(offset time.Duration) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            uuid.New(),
		ReferenceID:   uuid.New(),
		AggregateID:   uuid.NewString(),
		AggregateType: "account",
		Type:          "account.opened",
		Payload:       []byte(`{"account_id":"x"}`),
		OccurredAt:    time.Now().UTC().Add(offset),
		Category:      domain.CategoryDomain,
		CorrelationID: "corr",
	}
}

func TestOutbox_ClaimFailReclaim(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	msg := pendingMessage(0)
	require.NoError(t, repo.Save(ctx, []domain.OutboxMessage{msg}))

	// Claim
	claimed, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, msg.ID, claimed[0].ID)
	assert.Equal(t, domain.OutboxProcessing, claimed[0].Status())

	// Mientras está en Processing nadie más lo obtiene
	again, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Fallo -> vuelve a Pending con RetryCount 1
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "broker down"))
	stored, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, stored.Status())
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "broker down", *stored.Error)

	// Se vuelve a reclamar el mismo mensaje
	reclaimed, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, msg.ID, reclaimed[0].ID)
	assert.Equal(t, 1, reclaimed[0].RetryCount)
}

func TestOutbox_MarkProcessedIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	msg := pendingMessage(0)
	require.NoError(t, repo.Save(ctx, []domain.OutboxMessage{msg}))
	_, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, msg.ID, "first attempt"))
	_, err = repo.ClaimPending(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.MarkProcessed(ctx, msg.ID))

	stored, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxProcessed, stored.Status())
	assert.Nil(t, stored.ProcessingAt)
	assert.Nil(t, stored.Error)

	next, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestOutbox_MarkUnknownMessage(t *testing.T) {
	repo := newTestDB(t)

	err := repo.MarkProcessed(context.Background(), uuid.New())

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOutbox_SaveIgnoresAlreadySavedMessages(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	dup := pendingMessage(0)
	require.NoError(t, repo.Save(ctx, []domain.OutboxMessage{dup}))
	_, err := repo.ClaimPending(ctx, 1)
	require.NoError(t, err)

	fresh := pendingMessage(time.Second)
	err = repo.Save(ctx, []domain.OutboxMessage{dup, fresh})

	require.NoError(t, err)
	_, err = repo.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	stored, err := repo.Get(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxProcessing, stored.Status())
}

func TestOutbox_ConcurrentClaimsArePartitioned(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	const total = 40
	msgs := make([]domain.OutboxMessage, total)
	for i := range msgs {
		msgs[i] = pendingMessage(time.Duration(i) * time.Millisecond)
	}
	require.NoError(t, repo.Save(ctx, msgs))

	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.ClaimPending(ctx, 3)
				if !assert.NoError(t, err) || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, m := range batch {
					seen[m.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "mensaje %s reclamado %d veces", id, n)
	}
}

func TestOutbox_ClaimOrderedByOccurredAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	late := pendingMessage(time.Minute)
	early := pendingMessage(0)
	require.NoError(t, repo.Save(ctx, []domain.OutboxMessage{late, early}))

	claimed, err := repo.ClaimPending(ctx, 2)

	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, early.ID, claimed[0].ID)
	assert.Equal(t, late.ID, claimed[1].ID)
}

func TestOutbox_RepeatedFailuresAccumulate(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	msg := pendingMessage(0)
	require.NoError(t, repo.Save(ctx, []domain.OutboxMessage{msg}))

	for i, reason := range []string{"broker down", "timeout", "topic missing"} {
		claimed, err := repo.ClaimPending(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, i, claimed[0].RetryCount)

		require.NoError(t, repo.MarkFailed(ctx, msg.ID, reason))

		stored, err := repo.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OutboxPending, stored.Status())
		assert.Equal(t, i+1, stored.RetryCount)
		require.NotNil(t, stored.Error)
		assert.Equal(t, reason, *stored.Error)
	}
}

func TestOutbox_UnreadableRowIsReleasedAsFailed(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)
	good := pendingMessage(time.Second)
	require.NoError(t, repo.Save(ctx, []domain.OutboxMessage{good}))

	// Arrange: una fila más antigua con un reference_id corrupto
	badID := uuid.NewString()
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO outbox (`+outboxColumns+`) VALUES (?,?,?,?,?,?,?,NULL,NULL,NULL,0,?,?)`,
		badID, "not-a-uuid", "agg", "account", "account.opened", `{}`,
		toUnix(time.Now().UTC().Add(-time.Minute)), domain.CategoryDomain, "",
	)
	require.NoError(t, err)

	// Act
	claimed, err := repo.ClaimPending(ctx, 10)

	// Assert: el mensaje sano se reclama y la fila corrupta no se queda en Processing
	assert.Error(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, good.ID, claimed[0].ID)

	var (
		processingAt sql.NullInt64
		retryCount   int
		lastError    sql.NullString
	)
	require.NoError(t, repo.db.QueryRowContext(ctx,
		`SELECT processing_at, retry_count, error FROM outbox WHERE id = ?`, badID,
	).Scan(&processingAt, &retryCount, &lastError))
	assert.False(t, processingAt.Valid)
	assert.Equal(t, 1, retryCount)
	assert.Contains(t, lastError.String, "reference id")
}
