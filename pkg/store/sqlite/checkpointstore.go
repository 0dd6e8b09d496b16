package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// CheckpointStore is the SQLite-backed implementation of store.CheckpointStore.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore opens a SQLite-backed checkpoint store.
func NewCheckpointStore(opts ...Option) (*CheckpointStore, error) {
	db, err := open(opts...)
	if err != nil {
		return nil, err
	}
	return &CheckpointStore{db: db}, nil
}

func (c *CheckpointStore) Save(ctx context.Context, checkpoint store.ProjectionCheckpoint) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO projections (projection_name, last_processed_sequence, locked, locked_until, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(projection_name) DO UPDATE SET
			last_processed_sequence = excluded.last_processed_sequence,
			updated_at = excluded.updated_at`,
		checkpoint.ProjectionName, checkpoint.LastProcessedSequence,
		boolToInt(checkpoint.Locked), checkpoint.LockedUntil.Unix(), domain.Now().Unix(),
	)
	if err != nil {
		return domain.NewTransientStorageError("save checkpoint", err)
	}
	return nil
}

func (c *CheckpointStore) Load(ctx context.Context, projectionName string) (store.ProjectionCheckpoint, bool, error) {
	var (
		cp           store.ProjectionCheckpoint
		locked       int
		lockedUntil  int64
		updatedAtUTC int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT projection_name, last_processed_sequence, locked, locked_until, updated_at
		FROM projections WHERE projection_name = ?`,
		projectionName,
	).Scan(&cp.ProjectionName, &cp.LastProcessedSequence, &locked, &lockedUntil, &updatedAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProjectionCheckpoint{}, false, nil
	}
	if err != nil {
		return store.ProjectionCheckpoint{}, false, domain.NewTransientStorageError("load checkpoint", err)
	}
	cp.Locked = locked != 0
	cp.LockedUntil = time.Unix(lockedUntil, 0).UTC()
	cp.UpdatedAt = time.Unix(updatedAtUTC, 0).UTC()
	return cp, true, nil
}

func (c *CheckpointStore) Delete(ctx context.Context, projectionName string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM projections WHERE projection_name = ?`, projectionName)
	if err != nil {
		return domain.NewTransientStorageError("delete checkpoint", err)
	}
	return nil
}

// TryLock acquires the projection's advancement lock if it is currently
// unlocked or its previous holder's lock already expired. The insert
// path handles a projection that has never checkpointed before.
func (c *CheckpointStore) TryLock(ctx context.Context, projectionName string, expiresAt time.Time) (bool, error) {
	now := domain.Now().Unix()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.NewTransientStorageError("begin lock tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE projections SET locked = 1, locked_until = ?, updated_at = ?
		WHERE projection_name = ? AND (locked = 0 OR locked_until < ?)`,
		expiresAt.Unix(), now, projectionName, now,
	)
	if err != nil {
		return false, domain.NewTransientStorageError("acquire lock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.NewTransientStorageError("read lock result", err)
	}
	if affected == 0 {
		// Either held by someone else, or the row doesn't exist yet.
		seed, err := tx.ExecContext(ctx, `
			INSERT INTO projections (projection_name, last_processed_sequence, locked, locked_until, updated_at)
			VALUES (?, 0, 1, ?, ?)
			ON CONFLICT(projection_name) DO NOTHING`,
			projectionName, expiresAt.Unix(), now,
		)
		if err != nil {
			return false, domain.NewTransientStorageError("seed lock row", err)
		}
		seeded, err := seed.RowsAffected()
		if err != nil {
			return false, domain.NewTransientStorageError("read seed result", err)
		}
		if seeded == 0 {
			// The row exists and its lock is held and unexpired.
			return false, nil
		}
		var locked int
		var lockedUntil int64
		err = tx.QueryRowContext(ctx, `SELECT locked, locked_until FROM projections WHERE projection_name = ?`, projectionName).Scan(&locked, &lockedUntil)
		if err != nil {
			return false, domain.NewTransientStorageError("read seeded lock row", err)
		}
		if locked == 0 || lockedUntil < now {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, domain.NewTransientStorageError("commit lock tx", err)
	}
	return true, nil
}

func (c *CheckpointStore) Unlock(ctx context.Context, projectionName string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE projections SET locked = 0, locked_until = 0, updated_at = ? WHERE projection_name = ?`,
		domain.Now().Unix(), projectionName,
	)
	if err != nil {
		return domain.NewTransientStorageError("release lock", err)
	}
	return nil
}

func (c *CheckpointStore) Close() error {
	return c.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ store.CheckpointStore = (*CheckpointStore)(nil)
