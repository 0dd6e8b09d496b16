// Package store implements the tiered event store: a hot, TTL-bounded
// cache layered in front of a durable warm store, composed by a facade
// that performs read-through loads and write-back appends.
package store

import (
	"context"
	"time"

	"github.com/eventflow/core/pkg/domain"
)

// EventStore is the contract the rest of the framework depends on. It is
// satisfied by TieredStore; tests may substitute an in-memory fake.
type EventStore interface {
	// AppendEvents appends events to an aggregate's stream atomically.
	// Returns domain.ErrConcurrencyConflict if expectedVersion doesn't
	// match the stream's current version, or
	// domain.ErrUniqueConstraintViolation if a constraint would be violated.
	AppendEvents(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) error

	// AppendEventsIdempotent appends events with command-level idempotency.
	// If commandID was already processed within ttl, returns the cached
	// result (AlreadyProcessed=true) without appending again.
	AppendEventsIdempotent(
		ctx context.Context,
		aggregateID domain.AggregateId,
		expectedVersion int64,
		events []domain.DomainEvent,
		commandID string,
		ttl time.Duration,
	) (domain.CommandResult, error)

	// GetCommandResult retrieves the result of a previously processed
	// command, or ok=false if unknown or its TTL expired.
	GetCommandResult(ctx context.Context, commandID string) (domain.CommandResult, bool, error)

	// LoadEvents loads all events for an aggregate with version > afterVersion.
	LoadEvents(ctx context.Context, aggregateID domain.AggregateId, afterVersion int64) (domain.EventStream, error)

	// LoadAllEvents loads events store-wide in sequence order, for
	// projection replay. fromPosition is exclusive.
	LoadAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.DomainEvent, error)

	// LoadEventsByType loads events of a single type store-wide, paginated.
	LoadEventsByType(ctx context.Context, eventType string, limit, offset int) ([]domain.DomainEvent, error)

	// LoadEventsFromSequence is an alias view of LoadAllEvents keyed
	// explicitly by the warm store's sequence cursor, used by projection
	// replay and health-lag computation.
	LoadEventsFromSequence(ctx context.Context, fromSeq int64, limit int) ([]domain.DomainEvent, error)

	// GetAggregateVersion returns the current version of an aggregate, or
	// 0 if it doesn't exist.
	GetAggregateVersion(ctx context.Context, aggregateID domain.AggregateId) (int64, error)

	// LatestSequence returns the highest sequence_number assigned by the
	// warm store, or 0 if the store is empty.
	LatestSequence(ctx context.Context) (int64, error)

	// CheckUniqueness reports whether value is available for claiming
	// under indexName; if not, ownerID names the claiming aggregate.
	CheckUniqueness(ctx context.Context, indexName, value string) (available bool, ownerID string, err error)

	// GetConstraintOwner returns the aggregate id that owns a unique
	// value, or "" if unclaimed.
	GetConstraintOwner(ctx context.Context, indexName, value string) (string, error)

	// RebuildConstraints rebuilds the unique constraint index from the
	// event stream. Used for recovery or migration.
	RebuildConstraints(ctx context.Context) error

	// EvictHot forces the hot tier to drop a cached stream, used after a
	// durable write-back conflict invalidates it.
	EvictHot(ctx context.Context, aggregateID domain.AggregateId)

	// Close releases underlying resources.
	Close() error
}

// HotStore is the fast, volatile tier. Implementations must be safe for
// concurrent use.
type HotStore interface {
	// Get returns the cached stream for an aggregate, and whether the
	// cache currently covers that aggregate at all (a cached empty
	// stream and "not cached" are distinguished).
	Get(ctx context.Context, aggregateID domain.AggregateId) (domain.EventStream, bool)

	// Put replaces the cached stream for an aggregate, resetting its TTL.
	Put(ctx context.Context, aggregateID domain.AggregateId, stream domain.EventStream)

	// Append adds events to an already-cached stream, or seeds a new
	// cache entry if none exists yet.
	Append(ctx context.Context, aggregateID domain.AggregateId, events []domain.DomainEvent)

	// Evict drops a cached entry immediately, regardless of TTL.
	Evict(ctx context.Context, aggregateID domain.AggregateId)

	// Len reports the number of cached aggregate streams, for metrics.
	Len() int
}

// WarmStore is the durable tier of record. Implementations assign a
// strictly increasing global sequence_number to each appended event.
type WarmStore interface {
	// Append durably persists events for aggregateID, enforcing
	// expectedVersion via the unique (aggregate_id, version) constraint.
	// Also validates and claims any UniqueConstraints atomically with
	// the append.
	Append(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) error

	// Load returns events for an aggregate with version > afterVersion,
	// ordered by version ascending.
	Load(ctx context.Context, aggregateID domain.AggregateId, afterVersion int64) ([]domain.DomainEvent, error)

	// LoadAll returns events store-wide ordered by sequence_number
	// ascending, starting strictly after fromPosition.
	LoadAll(ctx context.Context, fromPosition int64, limit int) ([]domain.DomainEvent, error)

	// LoadByType returns events of a single type store-wide, ordered by
	// sequence_number ascending.
	LoadByType(ctx context.Context, eventType string, limit, offset int) ([]domain.DomainEvent, error)

	// Version returns an aggregate's current version, or 0 if absent.
	Version(ctx context.Context, aggregateID domain.AggregateId) (int64, error)

	// LatestSequence returns the highest assigned sequence_number.
	LatestSequence(ctx context.Context) (int64, error)

	// RecordCommand persists an idempotency record for commandID, valid
	// until expiresAt.
	RecordCommand(ctx context.Context, commandID string, result domain.CommandResult, expiresAt time.Time) error

	// LoadCommand retrieves a previously recorded command result, ok=false
	// if absent or expired.
	LoadCommand(ctx context.Context, commandID string) (domain.CommandResult, bool, error)

	// CheckUniqueness reports availability of value under indexName.
	CheckUniqueness(ctx context.Context, indexName, value string) (available bool, ownerID string, err error)

	// ConstraintOwner returns the owning aggregate id, or "".
	ConstraintOwner(ctx context.Context, indexName, value string) (string, error)

	// RebuildConstraints recomputes the unique-constraint index from the
	// full event log.
	RebuildConstraints(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
