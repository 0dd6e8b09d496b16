package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// ProjectionStatusStore is the SQLite-backed implementation of
// store.ProjectionStatusStore, used for health reporting independent of
// the checkpoint that drives replay.
type ProjectionStatusStore struct {
	db *sql.DB
}

// NewProjectionStatusStore opens a SQLite-backed projection status store.
func NewProjectionStatusStore(opts ...Option) (*ProjectionStatusStore, error) {
	db, err := open(opts...)
	if err != nil {
		return nil, err
	}
	return &ProjectionStatusStore{db: db}, nil
}

func (p *ProjectionStatusStore) Save(ctx context.Context, state store.ProjectionState) error {
	var startedAt, eventsProcessed, totalEvents int64
	if state.Progress != nil {
		startedAt = state.Progress.StartedAt.Unix()
		eventsProcessed = state.Progress.EventsProcessed
		totalEvents = state.Progress.TotalEvents
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO projection_status (projection_name, status, message, updated_at, events_processed, total_events, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(projection_name) DO UPDATE SET
			status = excluded.status, message = excluded.message, updated_at = excluded.updated_at,
			events_processed = excluded.events_processed, total_events = excluded.total_events, started_at = excluded.started_at`,
		state.ProjectionName, string(state.Status), state.Message, domain.Now().Unix(),
		eventsProcessed, totalEvents, startedAt,
	)
	if err != nil {
		return domain.NewTransientStorageError("save projection status", err)
	}
	return nil
}

func (p *ProjectionStatusStore) Load(ctx context.Context, projectionName string) (store.ProjectionState, bool, error) {
	var (
		state                          store.ProjectionState
		status                         string
		updatedAtUTC                   int64
		eventsProcessed, totalEvents   int64
		startedAtUTC                   int64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT status, message, updated_at, events_processed, total_events, started_at
		FROM projection_status WHERE projection_name = ?`,
		projectionName,
	).Scan(&status, &state.Message, &updatedAtUTC, &eventsProcessed, &totalEvents, &startedAtUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProjectionState{}, false, nil
	}
	if err != nil {
		return store.ProjectionState{}, false, domain.NewTransientStorageError("load projection status", err)
	}
	state.ProjectionName = projectionName
	state.Status = store.ProjectionStatus(status)
	state.UpdatedAt = time.Unix(updatedAtUTC, 0).UTC()
	if startedAtUTC > 0 {
		state.Progress = &store.RebuildProgress{
			EventsProcessed: eventsProcessed,
			TotalEvents:     totalEvents,
			StartedAt:       time.Unix(startedAtUTC, 0).UTC(),
		}
	}
	return state, true, nil
}

func (p *ProjectionStatusStore) UpdateProgress(ctx context.Context, projectionName string, progress store.RebuildProgress) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE projection_status SET events_processed = ?, total_events = ?, updated_at = ?
		WHERE projection_name = ?`,
		progress.EventsProcessed, progress.TotalEvents, domain.Now().Unix(), projectionName,
	)
	if err != nil {
		return domain.NewTransientStorageError("update projection progress", err)
	}
	return nil
}

func (p *ProjectionStatusStore) Close() error {
	return p.db.Close()
}

var _ store.ProjectionStatusStore = (*ProjectionStatusStore)(nil)
