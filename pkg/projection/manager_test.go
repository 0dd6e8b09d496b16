package projection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// fakeEventStore is a minimal in-memory store.EventStore sufficient for
// projection replay: a single global sequence, no hot/warm tiering.
type fakeEventStore struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (f *fakeEventStore) append(eventType, aggregateType string) domain.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := domain.DomainEvent{
		ID:            domain.GenerateID(),
		AggregateID:   domain.AggregateId("agg-1"),
		AggregateType: aggregateType,
		EventType:     eventType,
		Version:       int64(len(f.events) + 1),
		OccurredAt:    time.Now(),
	}
	f.events = append(f.events, e)
	return e
}

func (f *fakeEventStore) AppendEvents(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent) error {
	return nil
}

func (f *fakeEventStore) AppendEventsIdempotent(ctx context.Context, aggregateID domain.AggregateId, expectedVersion int64, events []domain.DomainEvent, commandID string, ttl time.Duration) (domain.CommandResult, error) {
	return domain.CommandResult{}, nil
}

func (f *fakeEventStore) GetCommandResult(ctx context.Context, commandID string) (domain.CommandResult, bool, error) {
	return domain.CommandResult{}, false, nil
}

func (f *fakeEventStore) LoadEvents(ctx context.Context, aggregateID domain.AggregateId, afterVersion int64) (domain.EventStream, error) {
	return domain.EventStream{}, nil
}

func (f *fakeEventStore) LoadAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.DomainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fromPosition >= int64(len(f.events)) {
		return nil, nil
	}
	end := fromPosition + int64(limit)
	if end > int64(len(f.events)) {
		end = int64(len(f.events))
	}
	out := make([]domain.DomainEvent, end-fromPosition)
	copy(out, f.events[fromPosition:end])
	return out, nil
}

func (f *fakeEventStore) LoadEventsByType(ctx context.Context, eventType string, limit, offset int) ([]domain.DomainEvent, error) {
	return nil, nil
}

func (f *fakeEventStore) LoadEventsFromSequence(ctx context.Context, fromSeq int64, limit int) ([]domain.DomainEvent, error) {
	return f.LoadAllEvents(ctx, fromSeq, limit)
}

func (f *fakeEventStore) GetAggregateVersion(ctx context.Context, aggregateID domain.AggregateId) (int64, error) {
	return 0, nil
}

func (f *fakeEventStore) LatestSequence(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.events)), nil
}

func (f *fakeEventStore) CheckUniqueness(ctx context.Context, indexName, value string) (bool, string, error) {
	return true, "", nil
}

func (f *fakeEventStore) GetConstraintOwner(ctx context.Context, indexName, value string) (string, error) {
	return "", nil
}

func (f *fakeEventStore) RebuildConstraints(ctx context.Context) error { return nil }

func (f *fakeEventStore) EvictHot(ctx context.Context, aggregateID domain.AggregateId) {}

func (f *fakeEventStore) Close() error { return nil }

var _ store.EventStore = (*fakeEventStore)(nil)

// fakeCheckpointStore is a minimal in-memory store.CheckpointStore.
type fakeCheckpointStore struct {
	mu    sync.Mutex
	store map[string]store.ProjectionCheckpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{store: make(map[string]store.ProjectionCheckpoint)}
}

func (f *fakeCheckpointStore) Save(ctx context.Context, checkpoint store.ProjectionCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	checkpoint.UpdatedAt = time.Now()
	f.store[checkpoint.ProjectionName] = checkpoint
	return nil
}

func (f *fakeCheckpointStore) Load(ctx context.Context, projectionName string) (store.ProjectionCheckpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.store[projectionName]
	return cp, ok, nil
}

func (f *fakeCheckpointStore) Delete(ctx context.Context, projectionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, projectionName)
	return nil
}

func (f *fakeCheckpointStore) TryLock(ctx context.Context, projectionName string, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.store[projectionName]
	if cp.Locked && time.Now().Before(cp.LockedUntil) {
		return false, nil
	}
	cp.ProjectionName = projectionName
	cp.Locked = true
	cp.LockedUntil = expiresAt
	f.store[projectionName] = cp
	return true, nil
}

func (f *fakeCheckpointStore) Unlock(ctx context.Context, projectionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.store[projectionName]
	cp.Locked = false
	f.store[projectionName] = cp
	return nil
}

var _ store.CheckpointStore = (*fakeCheckpointStore)(nil)

type recordingProjector struct {
	name    string
	mu      sync.Mutex
	handled []domain.DomainEvent
	failOn  string
	reset   int
}

func (p *recordingProjector) Name() string { return p.name }

func (p *recordingProjector) Handle(ctx context.Context, event domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && event.EventType == p.failOn {
		return assert.AnError
	}
	p.handled = append(p.handled, event)
	return nil
}

func (p *recordingProjector) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset++
	p.handled = nil
	return nil
}

func TestManager_ProcessNewAdvancesCheckpoint(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")
	events.append("test.Updated", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)

	require.NoError(t, mgr.ProcessNew(context.Background()))

	proj.mu.Lock()
	assert.Len(t, proj.handled, 2)
	proj.mu.Unlock()

	cp, ok, err := checkpoints.Load(context.Background(), "test-projector")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), cp.LastProcessedSequence)
}

func TestManager_ProcessNewIsIncremental(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)

	require.NoError(t, mgr.ProcessNew(context.Background()))
	events.append("test.Updated", "Test")
	require.NoError(t, mgr.ProcessNew(context.Background()))

	proj.mu.Lock()
	defer proj.mu.Unlock()
	assert.Len(t, proj.handled, 2)
}

func TestManager_DisabledProjectorDoesNotAdvance(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)
	mgr.Disable("test-projector")

	require.NoError(t, mgr.ProcessNew(context.Background()))

	proj.mu.Lock()
	defer proj.mu.Unlock()
	assert.Empty(t, proj.handled)
}

func TestManager_ErrorInOneProjectorDoesNotBlockAnother(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	failing := &recordingProjector{name: "failing", failOn: "test.Created"}
	ok := &recordingProjector{name: "healthy"}
	mgr.Register(failing)
	mgr.Register(ok)

	require.NoError(t, mgr.ProcessNew(context.Background()))

	ok.mu.Lock()
	assert.Len(t, ok.handled, 1)
	ok.mu.Unlock()

	_, found, _ := checkpoints.Load(context.Background(), "failing")
	assert.False(t, found || checkpoints.store["failing"].LastProcessedSequence > 0)
}

func TestManager_Rebuild(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")
	events.append("test.Updated", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)
	require.NoError(t, mgr.ProcessNew(context.Background()))

	require.NoError(t, mgr.Rebuild(context.Background(), "test-projector", 0))

	assert.Equal(t, 1, proj.reset)
	proj.mu.Lock()
	assert.Len(t, proj.handled, 2)
	proj.mu.Unlock()
}

func TestManager_RebuildUnknownProjector(t *testing.T) {
	events := &fakeEventStore{}
	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	err := mgr.Rebuild(context.Background(), "missing", 0)
	require.Error(t, err)
}

func TestManager_HealthReportsLag(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)

	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)

	health, err := mgr.Health(context.Background())
	require.NoError(t, err)
	require.Len(t, health, 1)
	assert.Equal(t, HealthHealthy, health[0].Status)
	assert.Equal(t, int64(1), health[0].Lag)
}

func TestEventFilter_Matches(t *testing.T) {
	f := EventFilter{EventTypes: []string{"test.Created"}}
	assert.True(t, f.Matches(domain.DomainEvent{EventType: "test.Created"}))
	assert.False(t, f.Matches(domain.DomainEvent{EventType: "test.Updated"}))

	empty := EventFilter{}
	assert.True(t, empty.Matches(domain.DomainEvent{EventType: "anything"}))
}
