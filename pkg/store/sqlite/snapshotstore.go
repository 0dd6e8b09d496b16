package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// SnapshotStore is the SQLite-backed implementation of store.SnapshotStore.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore opens a SQLite-backed snapshot store. Pass
// WithDSN pointing at the same database file as the warm store to share
// a connection pool's underlying file, or a dedicated DSN to isolate it.
func NewSnapshotStore(opts ...Option) (*SnapshotStore, error) {
	db, err := open(opts...)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap domain.AggregateSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(aggregate_id, version) DO UPDATE SET state = excluded.state, hash = excluded.hash, created_at = excluded.created_at`,
		snap.AggregateID.String(), snap.AggregateType, snap.Version, []byte(snap.State), snap.Hash, snap.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return domain.NewTransientStorageError("save snapshot", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, aggregateID domain.AggregateId) (domain.AggregateSnapshot, bool, error) {
	return s.loadWhere(ctx, `aggregate_id = ? ORDER BY version DESC LIMIT 1`, aggregateID.String())
}

func (s *SnapshotStore) LoadVersion(ctx context.Context, aggregateID domain.AggregateId, version int64) (domain.AggregateSnapshot, bool, error) {
	return s.loadWhere(ctx, `aggregate_id = ? AND version <= ? ORDER BY version DESC LIMIT 1`, aggregateID.String(), version)
}

func (s *SnapshotStore) loadWhere(ctx context.Context, where string, args ...any) (domain.AggregateSnapshot, bool, error) {
	query := `SELECT aggregate_id, aggregate_type, version, state, hash, created_at FROM snapshots WHERE ` + where
	row := s.db.QueryRowContext(ctx, query, args...)

	var (
		snap          domain.AggregateSnapshot
		aggregateID   string
		state         []byte
		createdAtUTC  int64
	)
	err := row.Scan(&aggregateID, &snap.AggregateType, &snap.Version, &state, &snap.Hash, &createdAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AggregateSnapshot{}, false, nil
	}
	if err != nil {
		return domain.AggregateSnapshot{}, false, domain.NewTransientStorageError("load snapshot", err)
	}
	snap.AggregateID = domain.AggregateIdFromString(aggregateID)
	snap.State = state
	snap.CreatedAt = time.UnixMicro(createdAtUTC).UTC()
	return snap, true, nil
}

func (s *SnapshotStore) Exists(ctx context.Context, aggregateID domain.AggregateId) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE aggregate_id = ?`, aggregateID.String()).Scan(&count)
	if err != nil {
		return false, domain.NewTransientStorageError("check snapshot existence", err)
	}
	return count > 0, nil
}

func (s *SnapshotStore) PruneSnapshots(ctx context.Context, aggregateID domain.AggregateId, keep int) error {
	if keep <= 0 {
		keep = 3
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE aggregate_id = ? AND version NOT IN (
			SELECT version FROM snapshots WHERE aggregate_id = ? ORDER BY version DESC LIMIT ?
		)`,
		aggregateID.String(), aggregateID.String(), keep,
	)
	if err != nil {
		return domain.NewTransientStorageError("prune snapshots", err)
	}
	return nil
}

func (s *SnapshotStore) RemoveAll(ctx context.Context, aggregateID domain.AggregateId) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE aggregate_id = ?`, aggregateID.String())
	if err != nil {
		return domain.NewTransientStorageError("remove snapshots", err)
	}
	return nil
}

func (s *SnapshotStore) Stats(ctx context.Context) (store.SnapshotStats, error) {
	var stats store.SnapshotStats
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT aggregate_id), MIN(created_at), MAX(created_at) FROM snapshots`,
	).Scan(&stats.TotalSnapshots, &stats.UniqueAggregates, &oldest, &newest)
	if err != nil {
		return store.SnapshotStats{}, domain.NewTransientStorageError("snapshot stats", err)
	}
	if oldest.Valid {
		stats.OldestSnapshot = time.UnixMicro(oldest.Int64).UTC()
	}
	if newest.Valid {
		stats.NewestSnapshot = time.UnixMicro(newest.Int64).UTC()
	}
	return stats, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)
