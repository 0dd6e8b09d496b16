// Package repository implements the generic aggregate repository: load
// via snapshot-seeded or full replay, save via append-plus-snapshot
// enforcement, and conflict-retry helpers for command handlers.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// Repository provides persistence operations for one aggregate type.
type Repository[T domain.Aggregate] interface {
	// Load reconstructs an aggregate from its snapshot (if any) and tail events.
	Load(ctx context.Context, id domain.AggregateId) (T, error)

	// LoadBatch reconstructs several aggregates, batching the underlying
	// snapshot and event loads.
	LoadBatch(ctx context.Context, ids []domain.AggregateId) (map[domain.AggregateId]T, error)

	// Save persists an aggregate's uncommitted events, then triggers
	// snapshot-strategy enforcement.
	Save(ctx context.Context, aggregate T) error

	// SaveWithCommand persists events with command-level idempotency.
	SaveWithCommand(ctx context.Context, aggregate T, commandID string) (domain.CommandResult, error)

	// Exists reports whether an aggregate has any persisted events.
	Exists(ctx context.Context, id domain.AggregateId) (bool, error)

	// GetVersion returns an aggregate's current persisted version.
	GetVersion(ctx context.Context, id domain.AggregateId) (int64, error)

	// RetryOnConflict loads a fresh aggregate and runs fn against it,
	// retrying on domain.ErrConcurrencyConflict up to maxRetries times
	// with exponential backoff (10ms, 20ms, 40ms, ...).
	RetryOnConflict(ctx context.Context, id domain.AggregateId, maxRetries int, fn func(T) error) error
}

// Factory creates a new, empty aggregate instance for the given id.
type Factory[T domain.Aggregate] func(id domain.AggregateId) T

// BaseRepository is the standard Repository implementation, composing a
// tiered EventStore with an optional SnapshotStore and SnapshotStrategy.
type BaseRepository[T domain.Aggregate] struct {
	eventStore    store.EventStore
	snapshotStore store.SnapshotStore
	strategy      store.SnapshotStrategy
	aggregateType string
	factory       Factory[T]
	logger        *slog.Logger
}

// Option configures a BaseRepository.
type Option[T domain.Aggregate] func(*BaseRepository[T])

// WithSnapshots enables snapshot-seeded loads and strategy-driven saves.
func WithSnapshots[T domain.Aggregate](snapshots store.SnapshotStore, strategy store.SnapshotStrategy) Option[T] {
	return func(r *BaseRepository[T]) {
		r.snapshotStore = snapshots
		r.strategy = strategy
	}
}

// WithLogger sets the logger used for non-fatal diagnostics (e.g. failed
// snapshot writes).
func WithLogger[T domain.Aggregate](logger *slog.Logger) Option[T] {
	return func(r *BaseRepository[T]) { r.logger = logger }
}

// NewRepository builds a repository for the given aggregate type.
func NewRepository[T domain.Aggregate](
	eventStore store.EventStore,
	aggregateType string,
	factory Factory[T],
	opts ...Option[T],
) *BaseRepository[T] {
	r := &BaseRepository[T]{
		eventStore:    eventStore,
		aggregateType: aggregateType,
		factory:       factory,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *BaseRepository[T]) Load(ctx context.Context, id domain.AggregateId) (T, error) {
	var zero T

	aggregate := r.factory(id)

	var fromVersion int64
	if r.snapshotStore != nil {
		snap, ok, err := r.snapshotStore.Load(ctx, id)
		if err != nil {
			return zero, fmt.Errorf("load snapshot: %w", err)
		}
		if ok {
			if !snap.VerifyIntegrity() {
				r.logger.Error("snapshot integrity check failed, falling back to full replay",
					"aggregate_id", id.String(), "version", snap.Version)
			} else if seedable, ok := any(aggregate).(domain.Snapshotable); ok {
				if err := seedable.UnmarshalSnapshot(snap.State); err != nil {
					return zero, fmt.Errorf("unmarshal snapshot: %w", err)
				}
				fromVersion = snap.Version
				restoreVersion(aggregate, snap.Version)
			}
		}
	}

	stream, err := r.eventStore.LoadEvents(ctx, id, fromVersion)
	if err != nil {
		return zero, fmt.Errorf("load events: %w", err)
	}

	if fromVersion == 0 && stream.IsEmpty() {
		return zero, domain.ErrAggregateNotFound
	}

	for _, evt := range stream.Events() {
		if err := aggregate.ApplyEvent(evt); err != nil {
			return zero, fmt.Errorf("apply event %s: %w", evt.EventType, err)
		}
	}
	if err := applyHistory(aggregate, stream.Events()); err != nil {
		return zero, err
	}

	return aggregate, nil
}

// restoreVersion seeds version bookkeeping from a snapshot, for aggregates
// that embed AggregateRoot. Must run before any tail events are applied,
// since LoadFromHistory only advances the version forward.
func restoreVersion[T domain.Aggregate](aggregate T, version int64) {
	type versionRestorer interface {
		RestoreVersion(int64)
	}
	if vr, ok := any(aggregate).(versionRestorer); ok {
		vr.RestoreVersion(version)
	}
}

// applyHistory advances version bookkeeping via AggregateRoot's
// LoadFromHistory, for aggregates that embed it.
func applyHistory[T domain.Aggregate](aggregate T, events []domain.DomainEvent) error {
	type historyLoader interface {
		LoadFromHistory([]domain.DomainEvent) error
	}
	if hl, ok := any(aggregate).(historyLoader); ok {
		return hl.LoadFromHistory(events)
	}
	return nil
}

func (r *BaseRepository[T]) LoadBatch(ctx context.Context, ids []domain.AggregateId) (map[domain.AggregateId]T, error) {
	result := make(map[domain.AggregateId]T, len(ids))
	for _, id := range ids {
		agg, err := r.Load(ctx, id)
		if err != nil {
			if domain.IsRetryable(err) {
				return nil, err
			}
			continue
		}
		result[id] = agg
	}
	return result, nil
}

func (r *BaseRepository[T]) Save(ctx context.Context, aggregate T) error {
	events := aggregate.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := aggregate.Version() - int64(len(events))
	if err := r.eventStore.AppendEvents(ctx, aggregate.ID(), expectedVersion, events); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	aggregate.ClearUncommittedEvents()

	r.maybeSnapshot(ctx, aggregate)
	return nil
}

func (r *BaseRepository[T]) SaveWithCommand(ctx context.Context, aggregate T, commandID string) (domain.CommandResult, error) {
	events := aggregate.UncommittedEvents()
	if len(events) == 0 {
		return domain.CommandResult{CommandID: commandID}, nil
	}

	expectedVersion := aggregate.Version() - int64(len(events))
	result, err := r.eventStore.AppendEventsIdempotent(ctx, aggregate.ID(), expectedVersion, events, commandID, domain.DefaultCommandTTL)
	if err != nil {
		return domain.CommandResult{}, fmt.Errorf("append events: %w", err)
	}

	if !result.AlreadyProcessed {
		aggregate.ClearUncommittedEvents()
		r.maybeSnapshot(ctx, aggregate)
	}
	return result, nil
}

// maybeSnapshot runs the configured strategy and writes a snapshot.
// Failure is logged, never propagated — a missed snapshot just means a
// longer replay on the next load.
func (r *BaseRepository[T]) maybeSnapshot(ctx context.Context, aggregate T) {
	if r.snapshotStore == nil || r.strategy == nil {
		return
	}
	seedable, ok := any(aggregate).(domain.Snapshotable)
	if !ok {
		return
	}

	last, hasLast, err := r.snapshotStore.Load(ctx, aggregate.ID())
	if err != nil {
		r.logger.Warn("failed to load prior snapshot for strategy check", "aggregate_id", aggregate.ID().String(), "error", err)
		return
	}
	if !r.strategy.ShouldSnapshot(ctx, aggregate, last, hasLast) {
		return
	}

	state, err := seedable.MarshalSnapshot()
	if err != nil {
		r.logger.Warn("failed to marshal snapshot", "aggregate_id", aggregate.ID().String(), "error", err)
		return
	}
	snap := domain.NewAggregateSnapshot(aggregate.ID(), aggregate.Type(), aggregate.Version(), state)
	if err := r.snapshotStore.Save(ctx, snap); err != nil {
		r.logger.Warn("failed to write snapshot", "aggregate_id", aggregate.ID().String(), "error", err)
		return
	}
	if err := r.snapshotStore.PruneSnapshots(ctx, aggregate.ID(), 3); err != nil {
		r.logger.Warn("failed to prune old snapshots", "aggregate_id", aggregate.ID().String(), "error", err)
	}
}

func (r *BaseRepository[T]) Exists(ctx context.Context, id domain.AggregateId) (bool, error) {
	version, err := r.eventStore.GetAggregateVersion(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check aggregate existence: %w", err)
	}
	return version > 0, nil
}

func (r *BaseRepository[T]) GetVersion(ctx context.Context, id domain.AggregateId) (int64, error) {
	return r.eventStore.GetAggregateVersion(ctx, id)
}

func (r *BaseRepository[T]) RetryOnConflict(ctx context.Context, id domain.AggregateId, maxRetries int, fn func(T) error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		aggregate, err := r.Load(ctx, id)
		if err != nil {
			return err
		}

		err = fn(aggregate)
		if err == nil {
			return nil
		}

		if !isConcurrencyConflict(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		backoff := time.Duration(10*(1<<uint(attempt))) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries exceeded for aggregate %s", id.String())
}

func isConcurrencyConflict(err error) bool {
	return domain.IsConcurrencyConflict(err)
}

var _ Repository[*dummyAggregate] = (*BaseRepository[*dummyAggregate])(nil)

// dummyAggregate exists only to type-check the Repository interface
// assertion above against a minimal domain.Aggregate implementation.
type dummyAggregate struct{ domain.AggregateRoot }

func (d *dummyAggregate) ApplyEvent(domain.DomainEvent) error { return nil }
