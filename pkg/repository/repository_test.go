package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// counterAggregate is a minimal domain.Aggregate + domain.Snapshotable used
// to exercise snapshot-seeded loads without pulling in a full example domain.
type counterAggregate struct {
	domain.AggregateRoot
	Count int
}

func newCounterAggregate(id domain.AggregateId) *counterAggregate {
	return &counterAggregate{AggregateRoot: domain.NewAggregateRoot(id, "counter")}
}

const counterAggregateType = "counter"
const eventIncremented = "counter.Incremented"

func (c *counterAggregate) Increment(metadata domain.EventMetadata) error {
	_, err := c.ApplyChange(struct{}{}, eventIncremented, metadata)
	if err != nil {
		return err
	}
	c.Count++
	return nil
}

func (c *counterAggregate) ApplyEvent(event domain.DomainEvent) error {
	if event.EventType == eventIncremented {
		c.Count++
	}
	return nil
}

type counterSnapshot struct {
	Count int `json:"count"`
}

func (c *counterAggregate) MarshalSnapshot() (json.RawMessage, error) {
	return json.Marshal(counterSnapshot{Count: c.Count})
}

func (c *counterAggregate) UnmarshalSnapshot(data json.RawMessage) error {
	var snap counterSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	c.Count = snap.Count
	return nil
}

var (
	_ domain.Aggregate    = (*counterAggregate)(nil)
	_ domain.Snapshotable = (*counterAggregate)(nil)
)

// memEventStore is a minimal in-memory store.EventStore with per-aggregate
// optimistic concurrency on append.
type memEventStore struct {
	mu     sync.Mutex
	events map[domain.AggregateId][]domain.DomainEvent
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[domain.AggregateId][]domain.DomainEvent)}
}

func (s *memEventStore) AppendEvents(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.events[aggregateID]
	if int64(len(current)) != expectedVersion {
		return domain.ErrConcurrencyConflict
	}
	s.events[aggregateID] = append(current, events...)
	return nil
}

func (s *memEventStore) AppendEventsIdempotent(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent, commandID string, ttl time.Duration) (domain.CommandResult, error) {
	if err := s.AppendEvents(ctx, aggregateID, expectedVersion, events); err != nil {
		return domain.CommandResult{}, err
	}
	return domain.CommandResult{CommandID: commandID, Events: events, ProcessedAt: domain.Now()}, nil
}

func (s *memEventStore) GetCommandResult(ctx context.Context, commandID string) (domain.CommandResult, bool, error) {
	return domain.CommandResult{}, false, nil
}

func (s *memEventStore) LoadEvents(ctx context.Context, aggregateID domain.AggregateId, afterVersion int64) (domain.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[aggregateID]
	var filtered []domain.DomainEvent
	for _, e := range all {
		if e.Version > afterVersion {
			filtered = append(filtered, e)
		}
	}
	return domain.NewEventStream(aggregateID, filtered), nil
}

func (s *memEventStore) LoadAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.DomainEvent, error) {
	return nil, nil
}

func (s *memEventStore) LoadEventsByType(ctx context.Context, eventType string, limit, offset int) ([]domain.DomainEvent, error) {
	return nil, nil
}

func (s *memEventStore) LoadEventsFromSequence(ctx context.Context, fromSeq int64, limit int) ([]domain.DomainEvent, error) {
	return nil, nil
}

func (s *memEventStore) GetAggregateVersion(ctx context.Context, aggregateID domain.AggregateId) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events[aggregateID])), nil
}

func (s *memEventStore) LatestSequence(ctx context.Context) (int64, error) { return 0, nil }

func (s *memEventStore) CheckUniqueness(ctx context.Context, indexName, value string) (bool, string, error) {
	return true, "", nil
}

func (s *memEventStore) GetConstraintOwner(ctx context.Context, indexName, value string) (string, error) {
	return "", nil
}

func (s *memEventStore) RebuildConstraints(ctx context.Context) error { return nil }

func (s *memEventStore) EvictHot(ctx context.Context, aggregateID domain.AggregateId) {}

func (s *memEventStore) Close() error { return nil }

var _ store.EventStore = (*memEventStore)(nil)

// memSnapshotStore is a minimal in-memory store.SnapshotStore, keeping only
// the latest snapshot per aggregate.
type memSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[domain.AggregateId]domain.AggregateSnapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{snapshots: make(map[domain.AggregateId]domain.AggregateSnapshot)}
}

func (s *memSnapshotStore) Save(ctx context.Context, snapshot domain.AggregateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (s *memSnapshotStore) Load(ctx context.Context, aggregateID domain.AggregateId) (domain.AggregateSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[aggregateID]
	return snap, ok, nil
}

func (s *memSnapshotStore) LoadVersion(ctx context.Context, aggregateID domain.AggregateId, version int64) (domain.AggregateSnapshot, bool, error) {
	return s.Load(ctx, aggregateID)
}

func (s *memSnapshotStore) Exists(ctx context.Context, aggregateID domain.AggregateId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[aggregateID]
	return ok, nil
}

func (s *memSnapshotStore) PruneSnapshots(ctx context.Context, aggregateID domain.AggregateId, keep int) error {
	return nil
}

func (s *memSnapshotStore) RemoveAll(ctx context.Context, aggregateID domain.AggregateId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, aggregateID)
	return nil
}

func (s *memSnapshotStore) Stats(ctx context.Context) (store.SnapshotStats, error) {
	return store.SnapshotStats{}, nil
}

var _ store.SnapshotStore = (*memSnapshotStore)(nil)

func TestBaseRepository_LoadRestoresVersionFromSnapshotWithNoTailEvents(t *testing.T) {
	ctx := context.Background()
	eventStore := newMemEventStore()
	snapshotStore := newMemSnapshotStore()

	repo := NewRepository(eventStore, counterAggregateType, newCounterAggregate,
		WithSnapshots[*counterAggregate](snapshotStore, store.NewSimpleSnapshotStrategy(1)))

	agg := newCounterAggregate("counter-1")
	for i := 0; i < 20; i++ {
		require.NoError(t, agg.Increment(domain.EventMetadata{}))
	}
	require.NoError(t, repo.Save(ctx, agg))
	require.EqualValues(t, 20, agg.Version())

	snap, ok, err := snapshotStore.Load(ctx, "counter-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 20, snap.Version)

	loaded, err := repo.Load(ctx, "counter-1")
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.Count)
	assert.EqualValues(t, 20, loaded.Version(), "snapshot-seeded load with no tail events must report the snapshot's version")
}

func TestBaseRepository_LoadRestoresVersionFromSnapshotWithTailEvents(t *testing.T) {
	ctx := context.Background()
	eventStore := newMemEventStore()
	snapshotStore := newMemSnapshotStore()

	repo := NewRepository(eventStore, counterAggregateType, newCounterAggregate,
		WithSnapshots[*counterAggregate](snapshotStore, store.NewSimpleSnapshotStrategy(1)))

	agg := newCounterAggregate("counter-1")
	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Increment(domain.EventMetadata{}))
	}
	require.NoError(t, repo.Save(ctx, agg))

	require.NoError(t, agg.Increment(domain.EventMetadata{}))
	require.NoError(t, agg.Increment(domain.EventMetadata{}))
	require.NoError(t, repo.Save(ctx, agg))

	loaded, err := repo.Load(ctx, "counter-1")
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Count)
	assert.EqualValues(t, 7, loaded.Version())
}

func TestBaseRepository_SaveAfterSnapshotSeededLoadUsesCorrectExpectedVersion(t *testing.T) {
	ctx := context.Background()
	eventStore := newMemEventStore()
	snapshotStore := newMemSnapshotStore()

	repo := NewRepository(eventStore, counterAggregateType, newCounterAggregate,
		WithSnapshots[*counterAggregate](snapshotStore, store.NewSimpleSnapshotStrategy(1)))

	agg := newCounterAggregate("counter-1")
	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Increment(domain.EventMetadata{}))
	}
	require.NoError(t, repo.Save(ctx, agg))

	loaded, err := repo.Load(ctx, "counter-1")
	require.NoError(t, err)

	// Before the fix, a snapshot-seeded load with no tail events reported
	// version 0, so a subsequent Save would compute a negative/incorrect
	// expectedVersion and misfire optimistic concurrency.
	require.NoError(t, loaded.Increment(domain.EventMetadata{}))
	require.NoError(t, repo.Save(ctx, loaded))

	version, err := eventStore.GetAggregateVersion(ctx, "counter-1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, version)
}

func TestBaseRepository_LoadWithoutSnapshotReplaysFromScratch(t *testing.T) {
	ctx := context.Background()
	eventStore := newMemEventStore()

	repo := NewRepository(eventStore, counterAggregateType, newCounterAggregate)

	agg := newCounterAggregate("counter-1")
	require.NoError(t, agg.Increment(domain.EventMetadata{}))
	require.NoError(t, agg.Increment(domain.EventMetadata{}))
	require.NoError(t, repo.Save(ctx, agg))

	loaded, err := repo.Load(ctx, "counter-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count)
	assert.EqualValues(t, 2, loaded.Version())
}

func TestBaseRepository_LoadUnknownAggregateReturnsNotFound(t *testing.T) {
	repo := NewRepository(newMemEventStore(), counterAggregateType, newCounterAggregate)
	_, err := repo.Load(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrAggregateNotFound)
}
