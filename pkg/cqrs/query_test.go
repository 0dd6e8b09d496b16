package cqrs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflow/core/pkg/cache"
)

type testQuery struct {
	id   string
	kind string
}

func (q testQuery) QueryType() string  { return q.kind }
func (q testQuery) CacheKey() string   { return q.kind + ":" + q.id }
func (q testQuery) CacheTags() []string { return []string{q.kind} }

type testQueryHandler struct {
	name     string
	cost     time.Duration
	calls    int64
	response any
	err      error
}

func (h *testQueryHandler) CanHandle(q Query) bool { return q.QueryType() == "test.query" }
func (h *testQueryHandler) EstimatedExecutionTime() time.Duration { return h.cost }
func (h *testQueryHandler) Handle(ctx context.Context, q Query) (any, error) {
	atomic.AddInt64(&h.calls, 1)
	if h.err != nil {
		return nil, h.err
	}
	if h.response != nil {
		return h.response, nil
	}
	return fmt.Sprintf("%s:%s", h.name, q.CacheKey()), nil
}

func newManagerForTest() *cache.Manager {
	return cache.NewManager(cache.NewL1(cache.DefaultL1Config()), nil, nil, cache.DefaultManagerConfig(), slog.Default())
}

func TestQueryBus_ExecuteNoCache(t *testing.T) {
	bus := NewQueryBus(nil)
	handler := &testQueryHandler{name: "h1"}
	bus.Register("test.query", handler)

	result, err := bus.Execute(context.Background(), testQuery{id: "1", kind: "test.query"})
	require.NoError(t, err)
	assert.Equal(t, "h1:test.query:1", result)
	assert.Equal(t, int64(1), atomic.LoadInt64(&handler.calls))
}

func TestQueryBus_ExecuteNoHandler(t *testing.T) {
	bus := NewQueryBus(nil)
	_, err := bus.Execute(context.Background(), testQuery{id: "1", kind: "unregistered"})
	require.Error(t, err)
}

func TestQueryBus_SelectsCheapestHandler(t *testing.T) {
	bus := NewQueryBus(nil)
	slow := &testQueryHandler{name: "slow", cost: 100 * time.Millisecond}
	fast := &testQueryHandler{name: "fast", cost: time.Millisecond}
	bus.Register("test.query", slow)
	bus.Register("test.query", fast)

	result, err := bus.Execute(context.Background(), testQuery{id: "1", kind: "test.query"})
	require.NoError(t, err)
	assert.Equal(t, "fast:test.query:1", result)
	assert.Equal(t, int64(0), atomic.LoadInt64(&slow.calls))
}

func TestQueryBus_CacheHitAvoidsHandlerCall(t *testing.T) {
	mgr := newManagerForTest()
	bus := NewQueryBus(mgr)
	handler := &testQueryHandler{name: "h1"}
	bus.Register("test.query", handler)

	q := testQuery{id: "1", kind: "test.query"}
	_, err := bus.Execute(context.Background(), q)
	require.NoError(t, err)
	_, err = bus.Execute(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&handler.calls))
}

func TestQueryBus_Metrics(t *testing.T) {
	bus := NewQueryBus(nil)
	handler := &testQueryHandler{name: "h1"}
	bus.Register("test.query", handler)

	for i := 0; i < 3; i++ {
		_, err := bus.Execute(context.Background(), testQuery{id: fmt.Sprintf("%d", i), kind: "test.query"})
		require.NoError(t, err)
	}

	metrics := bus.Metrics()
	assert.Equal(t, int64(3), metrics.TotalQueries)
	assert.Equal(t, int64(3), metrics.Misses)
}

func TestQueryBus_ExecuteBatch(t *testing.T) {
	bus := NewQueryBus(nil)
	handler := &testQueryHandler{name: "h1"}
	bus.Register("test.query", handler)

	queries := []Query{
		testQuery{id: "1", kind: "test.query"},
		testQuery{id: "2", kind: "test.query"},
		testQuery{id: "3", kind: "test.query"},
	}

	results, err := bus.ExecuteBatch(context.Background(), queries)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, "h1:test.query:1", results["test.query:1"])
}

type batchCapableHandler struct {
	testQueryHandler
	batchCalls int64
}

func (h *batchCapableHandler) ShouldUseBatchOptimization(queries []Query) bool {
	return len(queries) > 1
}

func (h *batchCapableHandler) HandleBatch(ctx context.Context, queries []Query) (map[string]any, error) {
	atomic.AddInt64(&h.batchCalls, 1)
	out := make(map[string]any, len(queries))
	for _, q := range queries {
		out[q.CacheKey()] = "batched:" + q.CacheKey()
	}
	return out, nil
}

func TestQueryBus_ExecuteBatchUsesBatchHandler(t *testing.T) {
	bus := NewQueryBus(nil)
	handler := &batchCapableHandler{testQueryHandler: testQueryHandler{name: "h1"}}
	bus.Register("test.query", handler)

	queries := []Query{
		testQuery{id: "1", kind: "test.query"},
		testQuery{id: "2", kind: "test.query"},
	}

	results, err := bus.ExecuteBatch(context.Background(), queries)
	require.NoError(t, err)
	assert.Equal(t, "batched:test.query:1", results["test.query:1"])
	assert.Equal(t, int64(1), atomic.LoadInt64(&handler.batchCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&handler.calls))
}
