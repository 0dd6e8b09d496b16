package store

import (
	"context"
	"time"
)

// ProjectionCheckpoint tracks a projection's replay position and its
// exclusive lock, preventing two processes from advancing the same
// projection concurrently.
type ProjectionCheckpoint struct {
	ProjectionName       string
	LastProcessedSequence int64
	Locked                bool
	LockedUntil           time.Time
	UpdatedAt             time.Time
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// Save upserts a checkpoint's position.
	Save(ctx context.Context, checkpoint ProjectionCheckpoint) error

	// Load loads a checkpoint for a projection, ok=false if never started.
	Load(ctx context.Context, projectionName string) (ProjectionCheckpoint, bool, error)

	// Delete removes a checkpoint, used before a full rebuild.
	Delete(ctx context.Context, projectionName string) error

	// TryLock attempts to acquire the projection's advancement lock until
	// expiresAt, succeeding only if unlocked or the prior lock expired.
	TryLock(ctx context.Context, projectionName string, expiresAt time.Time) (bool, error)

	// Unlock releases the projection's advancement lock.
	Unlock(ctx context.Context, projectionName string) error
}
