package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

type SnapshotRepoSQLite struct {
	db *sql.DB
}

func NewSnapshotRepoSQLite(db *sql.DB) *SnapshotRepoSQLite {
	return &SnapshotRepoSQLite{db: db}
}

// SaveSnapshot hace upsert por aggregate_id; nunca retrocede de versión.
func (r *SnapshotRepoSQLite) SaveSnapshot(ctx context.Context, s domain.SnapshotRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, snapshot_type, version, payload, created_at)
         VALUES (?,?,?,?,?)
         ON CONFLICT(aggregate_id) DO UPDATE SET
             snapshot_type = excluded.snapshot_type,
             version = excluded.version,
             payload = excluded.payload,
             created_at = excluded.created_at
         WHERE excluded.version >= snapshots.version`,
		s.AggregateID.String(), s.SnapshotType, s.Version, string(s.Payload), toUnix(s.CreatedAt),
	)
	return err
}

func (r *SnapshotRepoSQLite) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID, upTo int64) (*domain.SnapshotRecord, error) {
	query := `SELECT snapshot_type, version, payload, created_at FROM snapshots WHERE aggregate_id = ?`
	args := []any{aggregateID.String()}
	if upTo > 0 {
		query += ` AND version <= ?`
		args = append(args, upTo)
	}

	var (
		snap      = domain.SnapshotRecord{AggregateID: aggregateID}
		payload   string
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&snap.SnapshotType, &snap.Version, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Payload = []byte(payload)
	snap.CreatedAt = fromUnix(createdAt)
	return &snap, nil
}

func (r *SnapshotRepoSQLite) DeleteSnapshots(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE aggregate_id = ?`, aggregateID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ domain.SnapshotRepository = (*SnapshotRepoSQLite)(nil)
