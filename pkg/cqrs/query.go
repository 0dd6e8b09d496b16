package cqrs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eventflow/core/pkg/cache"
	"github.com/eventflow/core/pkg/domain"
)

// Query is a read request. CacheKey is used both for cache lookups and to
// dedupe concurrent identical queries via singleflight.
type Query interface {
	QueryType() string
	CacheKey() string
	CacheTags() []string
}

// QueryHandler executes a query and returns its result.
type QueryHandler interface {
	CanHandle(query Query) bool
	// EstimatedExecutionTime informs handler selection when multiple
	// handlers can handle the same query type; the cheapest wins.
	EstimatedExecutionTime() time.Duration
	Handle(ctx context.Context, query Query) (any, error)
}

// BatchQueryHandler is implemented optionally by handlers that can process
// a group of same-type queries more cheaply together than one at a time.
type BatchQueryHandler interface {
	QueryHandler
	ShouldUseBatchOptimization(queries []Query) bool
	HandleBatch(ctx context.Context, queries []Query) (map[string]any, error)
}

// QueryMetrics is a point-in-time snapshot of query bus activity.
type QueryMetrics struct {
	TotalQueries      int64
	L1Hits, L2Hits, L3Hits int64
	Misses            int64
	AvgExecutionTime  time.Duration
	ByHandler         map[string]time.Duration
}

// QueryBus selects a handler per query type, serves reads through the
// multi-tier cache, and supports batched execution.
type QueryBus struct {
	mu            sync.RWMutex
	handlers      map[string][]QueryHandler
	selectionTTL  time.Duration
	selectionCache map[string]selectionEntry

	cacheMgr *cache.Manager
	group    singleflight.Group

	metricsMu sync.Mutex
	metrics   QueryMetrics
	totalTime time.Duration
	byHandlerTotal map[string]time.Duration
	byHandlerCount map[string]int64
}

type selectionEntry struct {
	handler QueryHandler
	until   time.Time
}

// NewQueryBus constructs a bus backed by cacheMgr (may be nil to disable caching).
func NewQueryBus(cacheMgr *cache.Manager) *QueryBus {
	return &QueryBus{
		handlers:       make(map[string][]QueryHandler),
		selectionTTL:   time.Minute,
		selectionCache: make(map[string]selectionEntry),
		cacheMgr:       cacheMgr,
		byHandlerTotal: make(map[string]time.Duration),
		byHandlerCount: make(map[string]int64),
	}
}

// Register adds a handler for queryType; multiple handlers per type are
// allowed, disambiguated at dispatch time by EstimatedExecutionTime.
func (b *QueryBus) Register(queryType string, handler QueryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queryType] = append(b.handlers[queryType], handler)
}

func (b *QueryBus) selectHandler(query Query) (QueryHandler, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queryType := query.QueryType()
	if cached, ok := b.selectionCache[queryType]; ok && domain.Now().Before(cached.until) {
		return cached.handler, nil
	}

	candidates := b.handlers[queryType]
	var chosen QueryHandler
	for _, h := range candidates {
		if !h.CanHandle(query) {
			continue
		}
		if chosen == nil || h.EstimatedExecutionTime() < chosen.EstimatedExecutionTime() {
			chosen = h
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("cqrs: %w: no handler can handle query type %q", domain.ErrHandlerNotFound, queryType)
	}

	b.selectionCache[queryType] = selectionEntry{handler: chosen, until: domain.Now().Add(b.selectionTTL)}
	return chosen, nil
}

// Execute runs a single query through the cache (if configured) and
// records metrics.
func (b *QueryBus) Execute(ctx context.Context, query Query) (any, error) {
	start := time.Now()
	handler, err := b.selectHandler(query)
	if err != nil {
		return nil, err
	}

	result, hitTier, err := b.withCache(ctx, query, handler)
	b.recordMetrics(query.QueryType(), hitTier, time.Since(start))
	return result, err
}

func (b *QueryBus) withCache(ctx context.Context, query Query, handler QueryHandler) (any, string, error) {
	if b.cacheMgr == nil {
		result, err := handler.Handle(ctx, query)
		return result, "miss", err
	}

	key := query.CacheKey()
	if raw, ok, err := b.cacheMgr.Get(ctx, key); err == nil && ok {
		var result any
		if err := json.Unmarshal(raw, &result); err == nil {
			return result, "hit", nil
		}
	}

	// singleflight collapses concurrent identical queries into one execution.
	v, err, _ := b.group.Do(key, func() (any, error) {
		result, err := handler.Handle(ctx, query)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(result); err == nil {
			_ = b.cacheMgr.Set(ctx, key, raw, query.CacheTags())
		}
		return result, nil
	})
	return v, "miss", err
}

func (b *QueryBus) recordMetrics(handlerName string, hitTier string, elapsed time.Duration) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()

	b.metrics.TotalQueries++
	switch hitTier {
	case "hit":
		b.metrics.L1Hits++
	default:
		b.metrics.Misses++
	}
	b.totalTime += elapsed
	b.metrics.AvgExecutionTime = b.totalTime / time.Duration(b.metrics.TotalQueries)

	b.byHandlerTotal[handlerName] += elapsed
	b.byHandlerCount[handlerName]++
	if b.metrics.ByHandler == nil {
		b.metrics.ByHandler = make(map[string]time.Duration)
	}
	b.metrics.ByHandler[handlerName] = b.byHandlerTotal[handlerName] / time.Duration(b.byHandlerCount[handlerName])
}

// Metrics returns a snapshot of bus activity.
func (b *QueryBus) Metrics() QueryMetrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	return b.metrics
}

// ExecuteBatch groups queries by handler, uses each handler's batch path
// when it opts in, and merges cache hits with freshly executed results.
// Results are keyed by each query's CacheKey; the returned map carries no
// order.
func (b *QueryBus) ExecuteBatch(ctx context.Context, queries []Query) (map[string]any, error) {
	results := make(map[string]any, len(queries))
	byHandler := make(map[QueryHandler][]Query)

	remaining := make([]Query, 0, len(queries))
	for _, q := range queries {
		if b.cacheMgr != nil {
			if raw, ok, err := b.cacheMgr.Get(ctx, q.CacheKey()); err == nil && ok {
				var v any
				if err := json.Unmarshal(raw, &v); err == nil {
					results[q.CacheKey()] = v
					continue
				}
			}
		}
		remaining = append(remaining, q)
	}

	for _, q := range remaining {
		handler, err := b.selectHandler(q)
		if err != nil {
			return nil, err
		}
		byHandler[handler] = append(byHandler[handler], q)
	}

	// Deterministic iteration order for reproducible batch execution traces.
	handlerList := make([]QueryHandler, 0, len(byHandler))
	for h := range byHandler {
		handlerList = append(handlerList, h)
	}
	sort.Slice(handlerList, func(i, j int) bool {
		return fmt.Sprintf("%p", handlerList[i]) < fmt.Sprintf("%p", handlerList[j])
	})

	for _, handler := range handlerList {
		group := byHandler[handler]
		if batchHandler, ok := handler.(BatchQueryHandler); ok && batchHandler.ShouldUseBatchOptimization(group) {
			batchResults, err := batchHandler.HandleBatch(ctx, group)
			if err != nil {
				return nil, err
			}
			for k, v := range batchResults {
				results[k] = v
				if b.cacheMgr != nil {
					if raw, err := json.Marshal(v); err == nil {
						for _, q := range group {
							if q.CacheKey() == k {
								_ = b.cacheMgr.Set(ctx, k, raw, q.CacheTags())
							}
						}
					}
				}
			}
			continue
		}

		for _, q := range group {
			result, err := handler.Handle(ctx, q)
			if err != nil {
				return nil, err
			}
			results[q.CacheKey()] = result
			if b.cacheMgr != nil {
				if raw, err := json.Marshal(result); err == nil {
					_ = b.cacheMgr.Set(ctx, q.CacheKey(), raw, q.CacheTags())
				}
			}
		}
	}

	return results, nil
}
