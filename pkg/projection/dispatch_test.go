package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/domain"
)

func TestRealtimeStrategy_MatchesAndDispatches(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)
	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)

	strategy := NewRealtimeStrategy(mgr, []string{"test.*"})
	assert.True(t, strategy.Matches(domain.DomainEvent{EventType: "test.Created"}))
	assert.False(t, strategy.Matches(domain.DomainEvent{EventType: "other.Created"}))

	require.NoError(t, strategy.Dispatch(context.Background(), domain.DomainEvent{EventType: "test.Created"}))

	proj.mu.Lock()
	defer proj.mu.Unlock()
	assert.Len(t, proj.handled, 1)
}

func TestAsyncStrategy_ProcessesQueuedEvents(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)
	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)

	strategy := NewAsyncStrategy(mgr, nil, 2, nil)
	defer strategy.Close()

	require.NoError(t, strategy.Dispatch(context.Background(), domain.DomainEvent{EventType: "test.Created"}))

	require.Eventually(t, func() bool {
		proj.mu.Lock()
		defer proj.mu.Unlock()
		return len(proj.handled) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBatchedStrategy_FlushesOnSize(t *testing.T) {
	events := &fakeEventStore{}
	events.append("test.Created", "Test")

	checkpoints := newFakeCheckpointStore()
	mgr := NewManager(events, checkpoints, nil, DefaultManagerConfig(), nil)
	proj := &recordingProjector{name: "test-projector"}
	mgr.Register(proj)

	strategy := NewBatchedStrategy(mgr, nil, 2, time.Minute, nil)
	defer strategy.Close()

	require.NoError(t, strategy.Dispatch(context.Background(), domain.DomainEvent{EventType: "test.Created"}))
	proj.mu.Lock()
	assert.Empty(t, proj.handled)
	proj.mu.Unlock()

	require.NoError(t, strategy.Dispatch(context.Background(), domain.DomainEvent{EventType: "test.Created"}))

	proj.mu.Lock()
	defer proj.mu.Unlock()
	assert.Len(t, proj.handled, 1)
}

type orderedStrategy struct {
	name     string
	priority int
	calls    *[]string
}

func (s orderedStrategy) Name() string                            { return s.name }
func (s orderedStrategy) Priority() int                           { return s.priority }
func (s orderedStrategy) Matches(event domain.DomainEvent) bool   { return true }
func (s orderedStrategy) Dispatch(ctx context.Context, event domain.DomainEvent) error {
	*s.calls = append(*s.calls, s.name)
	return nil
}

func TestPipeline_OrdersByDescendingPriority(t *testing.T) {
	var calls []string
	pipeline := NewPipeline(
		orderedStrategy{name: "low", priority: 10, calls: &calls},
		orderedStrategy{name: "high", priority: 100, calls: &calls},
		orderedStrategy{name: "mid", priority: 50, calls: &calls},
	)

	require.NoError(t, pipeline.Offer(context.Background(), []domain.DomainEvent{{EventType: "test.Created"}}))
	assert.Equal(t, []string{"high", "mid", "low"}, calls)
}
