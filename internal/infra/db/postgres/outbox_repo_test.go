package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const claimQuery = `UPDATE outbox SET processing_at = now\(\)`

func newMockRepo(t *testing.T) (*OutboxRepoPostgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOutboxRepoPostgres(db), mock
}

func outboxRows() *sqlmock.Rows {
	columns := strings.Split(outboxColumns, ",")
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}
	return sqlmock.NewRows(columns)
}

func addClaimedRow(rows *sqlmock.Rows, id string, occurredAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, uuid.NewString(), "agg-1", "account", "account.opened", []byte(`{"n":1}`),
		occurredAt, time.Now().UTC(), nil, nil, 0, "domain", "corr")
}

func TestClaimPending_CommitsAndSortsByOccurredAt(t *testing.T) {
	// ARRANGE
	repo, mock := newMockRepo(t)
	early, late := uuid.New(), uuid.New()
	now := time.Now().UTC()
	rows := addClaimedRow(addClaimedRow(outboxRows(), late.String(), now), early.String(), now.Add(-time.Minute))

	mock.ExpectBegin()
	mock.ExpectQuery(claimQuery).WithArgs(10).WillReturnRows(rows)
	mock.ExpectCommit()

	// ACT
	claimed, err := repo.ClaimPending(context.Background(), 10)

	// ASSERT
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, early, claimed[0].ID)
	assert.Equal(t, late, claimed[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_UnreadableRowRollsBackWholeClaim(t *testing.T) {
	// ARRANGE
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rows := addClaimedRow(addClaimedRow(outboxRows(), uuid.NewString(), now), "not-a-uuid", now)

	mock.ExpectBegin()
	mock.ExpectQuery(claimQuery).WithArgs(10).WillReturnRows(rows)
	mock.ExpectRollback()

	// ACT
	claimed, err := repo.ClaimPending(context.Background(), 10)

	// ASSERT: sin commit, ninguna fila queda en Processing
	assert.Error(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_StreamErrorRollsBack(t *testing.T) {
	// ARRANGE
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rows := addClaimedRow(addClaimedRow(outboxRows(), uuid.NewString(), now), uuid.NewString(), now).
		RowError(1, errors.New("connection reset"))

	mock.ExpectBegin()
	mock.ExpectQuery(claimQuery).WithArgs(10).WillReturnRows(rows)
	mock.ExpectRollback()

	// ACT
	claimed, err := repo.ClaimPending(context.Background(), 10)

	// ASSERT
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
