package projection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/eventflow/core/pkg/domain"
)

// DispatchStrategy offers newly-appended events to the projection pipeline.
// Strategies run in descending Priority order; each decides independently
// whether and when to call the manager.
type DispatchStrategy interface {
	Name() string
	Priority() int
	// Matches reports whether this strategy's pattern filter accepts event.
	Matches(event domain.DomainEvent) bool
	// Dispatch offers event to the strategy. Realtime applies inline;
	// async/batched enqueue for later processing.
	Dispatch(ctx context.Context, event domain.DomainEvent) error
}

func compilePatterns(patterns []string) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if g, err := glob.Compile(p); err == nil {
			globs = append(globs, g)
		}
	}
	return globs
}

func matchesAny(globs []glob.Glob, eventType string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(eventType) {
			return true
		}
	}
	return false
}

// RealtimeStrategy applies projections inline, intended to run from the
// appending transaction's post-commit hook. Priority 100, zero delay.
type RealtimeStrategy struct {
	manager  *Manager
	patterns []glob.Glob
}

func NewRealtimeStrategy(manager *Manager, patterns []string) *RealtimeStrategy {
	return &RealtimeStrategy{manager: manager, patterns: compilePatterns(patterns)}
}

func (s *RealtimeStrategy) Name() string     { return "realtime" }
func (s *RealtimeStrategy) Priority() int    { return 100 }
func (s *RealtimeStrategy) Matches(event domain.DomainEvent) bool {
	return matchesAny(s.patterns, event.EventType)
}

func (s *RealtimeStrategy) Dispatch(ctx context.Context, event domain.DomainEvent) error {
	return s.manager.ProcessNew(ctx)
}

// AsyncStrategy enqueues one job per event onto a worker pool; the job
// calls manager.ProcessNew. Priority 50.
type AsyncStrategy struct {
	manager  *Manager
	patterns []glob.Glob
	logger   *slog.Logger

	jobs chan domain.DomainEvent
	wg   sync.WaitGroup
}

func NewAsyncStrategy(manager *Manager, patterns []string, workers int, logger *slog.Logger) *AsyncStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	s := &AsyncStrategy{
		manager:  manager,
		patterns: compilePatterns(patterns),
		logger:   logger,
		jobs:     make(chan domain.DomainEvent, 1024),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *AsyncStrategy) worker() {
	defer s.wg.Done()
	for event := range s.jobs {
		if err := s.manager.ProcessNew(context.Background()); err != nil {
			s.logger.Warn("async projection job failed", slog.String("event_id", event.ID), slog.String("error", err.Error()))
		}
	}
}

func (s *AsyncStrategy) Name() string  { return "async" }
func (s *AsyncStrategy) Priority() int { return 50 }
func (s *AsyncStrategy) Matches(event domain.DomainEvent) bool {
	return matchesAny(s.patterns, event.EventType)
}

func (s *AsyncStrategy) Dispatch(ctx context.Context, event domain.DomainEvent) error {
	select {
	case s.jobs <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncStrategy) Close() {
	close(s.jobs)
	s.wg.Wait()
}

// BatchedStrategy buffers events in a shared bucket, flushing as a single
// batch when size or age triggers. Priority 25.
type BatchedStrategy struct {
	manager  *Manager
	patterns []glob.Glob
	logger   *slog.Logger

	maxSize int
	maxAge  time.Duration

	mu      sync.Mutex
	bucket  []domain.DomainEvent
	openedAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewBatchedStrategy(manager *Manager, patterns []string, maxSize int, maxAge time.Duration, logger *slog.Logger) *BatchedStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	s := &BatchedStrategy{
		manager:  manager,
		patterns: compilePatterns(patterns),
		logger:   logger,
		maxSize:  maxSize,
		maxAge:   maxAge,
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweep()
	return s
}

func (s *BatchedStrategy) Name() string  { return "batched" }
func (s *BatchedStrategy) Priority() int { return 25 }
func (s *BatchedStrategy) Matches(event domain.DomainEvent) bool {
	return matchesAny(s.patterns, event.EventType)
}

func (s *BatchedStrategy) Dispatch(ctx context.Context, event domain.DomainEvent) error {
	s.mu.Lock()
	if len(s.bucket) == 0 {
		s.openedAt = domain.Now()
	}
	s.bucket = append(s.bucket, event)
	shouldFlush := len(s.bucket) >= s.maxSize
	s.mu.Unlock()

	if shouldFlush {
		return s.flush(ctx)
	}
	return nil
}

// flush processes the whole bucket through the manager as a single pass;
// the manager itself reads from each projector's checkpoint, so flushing
// just needs to trigger one ProcessNew regardless of bucket contents.
func (s *BatchedStrategy) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.bucket) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.bucket = s.bucket[:0]
	s.mu.Unlock()
	return s.manager.ProcessNew(ctx)
}

// sweep periodically flushes expired batches, independent of size triggers.
func (s *BatchedStrategy) sweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			expired := len(s.bucket) > 0 && domain.Now().Sub(s.openedAt) >= s.maxAge
			s.mu.Unlock()
			if expired {
				if err := s.flush(context.Background()); err != nil {
					s.logger.Warn("batched projection flush failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (s *BatchedStrategy) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// Pipeline fans an event out to every strategy whose pattern matches, in
// descending priority order.
type Pipeline struct {
	strategies []DispatchStrategy
}

func NewPipeline(strategies ...DispatchStrategy) *Pipeline {
	ordered := append([]DispatchStrategy(nil), strategies...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Priority() > ordered[j-1].Priority(); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return &Pipeline{strategies: ordered}
}

func (p *Pipeline) Offer(ctx context.Context, events []domain.DomainEvent) error {
	for _, event := range events {
		for _, s := range p.strategies {
			if !s.Matches(event) {
				continue
			}
			if err := s.Dispatch(ctx, event); err != nil {
				return err
			}
		}
	}
	return nil
}
