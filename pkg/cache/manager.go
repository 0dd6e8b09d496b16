package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eventflow/core/pkg/domain"
)

// Manager composes L1/L2/L3 into the read-through, write-back multi-tier
// cache contract: probe in order, promote to every higher tier on a hit,
// populate all tiers on a miss.
type Manager struct {
	l1, l2, l3 Tier
	l1TTL      time.Duration
	l2TTL      time.Duration
	l3TTL      time.Duration
	logger     *slog.Logger
	batcher    *invalidationBatcher
}

// ManagerConfig sets each tier's TTL. Per spec, L3's TTL is typically 2x L2's.
type ManagerConfig struct {
	L1TTL time.Duration
	L2TTL time.Duration
	L3TTL time.Duration

	// InvalidationBatchSize/PerSecond bound the rate-limited L2/L3 queued invalidation.
	InvalidationBatchSize int
	InvalidationPerSecond float64
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		L1TTL: time.Minute,
		L2TTL: 10 * time.Minute,
		L3TTL: 20 * time.Minute,

		InvalidationBatchSize: 100,
		InvalidationPerSecond: 50,
	}
}

// NewManager wires l2/l3 as optional: pass nil to run with fewer tiers
// (e.g. tests using only L1).
func NewManager(l1 *L1, l2, l3 Tier, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		l1: l1, l2: l2, l3: l3,
		l1TTL: cfg.L1TTL, l2TTL: cfg.L2TTL, l3TTL: cfg.L3TTL,
		logger: logger,
	}
	m.batcher = newInvalidationBatcher(m, cfg.InvalidationBatchSize, cfg.InvalidationPerSecond, logger)
	return m
}

// Get probes L1 → L2 → L3 in order. A hit at a lower tier is promoted to
// every higher tier before returning.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if entry, ok, err := m.l1.Get(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return entry.Value, true, nil
	}

	if m.l2 != nil {
		if entry, ok, err := m.l2.Get(ctx, key); err != nil {
			m.logger.Warn("l2 cache get failed", slog.String("error", err.Error()))
		} else if ok {
			m.promote(ctx, entry, m.l1)
			return entry.Value, true, nil
		}
	}

	if m.l3 != nil {
		if entry, ok, err := m.l3.Get(ctx, key); err != nil {
			m.logger.Warn("l3 cache get failed", slog.String("error", err.Error()))
		} else if ok {
			m.promote(ctx, entry, m.l1, m.l2)
			return entry.Value, true, nil
		}
	}

	return nil, false, nil
}

func (m *Manager) promote(ctx context.Context, entry Entry, tiers ...Tier) {
	for _, t := range tiers {
		if t == nil {
			continue
		}
		if err := t.Set(ctx, entry); err != nil {
			m.logger.Warn("cache promotion failed", slog.String("error", err.Error()))
		}
	}
}

// Set writes value to every configured tier with each tier's own TTL.
func (m *Manager) Set(ctx context.Context, key string, value []byte, tags []string) error {
	now := domain.Now()
	if err := m.l1.Set(ctx, Entry{Key: key, Value: value, Tags: tags, ExpiresAt: now.Add(m.l1TTL), CreatedAt: now}); err != nil {
		return err
	}
	if m.l2 != nil {
		if err := m.l2.Set(ctx, Entry{Key: key, Value: value, Tags: tags, ExpiresAt: now.Add(m.l2TTL), CreatedAt: now}); err != nil {
			m.logger.Warn("l2 cache set failed", slog.String("error", err.Error()))
		}
	}
	if m.l3 != nil {
		if err := m.l3.Set(ctx, Entry{Key: key, Value: value, Tags: tags, ExpiresAt: now.Add(m.l3TTL), CreatedAt: now}); err != nil {
			m.logger.Warn("l3 cache set failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// InvalidateTags clears L1 immediately and queues L2/L3 clearing through
// the rate-limited batcher.
func (m *Manager) InvalidateTags(tags []string) {
	_ = m.l1.InvalidateTags(context.Background(), tags)
	m.batcher.enqueue(tags)
}

// ForceInvalidateTags clears every tier immediately, bypassing the batcher.
func (m *Manager) ForceInvalidateTags(ctx context.Context, tags []string) error {
	if err := m.l1.InvalidateTags(ctx, tags); err != nil {
		return err
	}
	if m.l2 != nil {
		if err := m.l2.InvalidateTags(ctx, tags); err != nil {
			return err
		}
	}
	if m.l3 != nil {
		if err := m.l3.InvalidateTags(ctx, tags); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Close() error {
	m.batcher.stop()
	return nil
}

// invalidationBatcher rate-limits L2/L3 tag invalidation so a burst of
// writes doesn't hammer the distributed tier with individual clears.
// Failed batches are re-queued.
type invalidationBatcher struct {
	manager   *Manager
	limiter   *rate.Limiter
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	pending []string
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newInvalidationBatcher(m *Manager, batchSize int, perSecond float64, logger *slog.Logger) *invalidationBatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if perSecond <= 0 {
		perSecond = 50
	}
	b := &invalidationBatcher{
		manager:   m,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), batchSize),
		batchSize: batchSize,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *invalidationBatcher) enqueue(tags []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, tags...)
}

func (b *invalidationBatcher) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *invalidationBatcher) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	n := len(b.pending)
	if n > b.batchSize {
		n = b.batchSize
	}
	batch := b.pending[:n]
	b.pending = b.pending[n:]
	b.mu.Unlock()

	if err := b.limiter.WaitN(context.Background(), len(batch)); err != nil {
		b.requeue(batch)
		return
	}

	ctx := context.Background()
	if b.manager.l2 != nil {
		if err := b.manager.l2.InvalidateTags(ctx, batch); err != nil {
			b.logger.Warn("queued l2 invalidation failed, re-queueing", slog.String("error", err.Error()))
			b.requeue(batch)
			return
		}
	}
	if b.manager.l3 != nil {
		if err := b.manager.l3.InvalidateTags(ctx, batch); err != nil {
			b.logger.Warn("queued l3 invalidation failed, re-queueing", slog.String("error", err.Error()))
			b.requeue(batch)
		}
	}
}

func (b *invalidationBatcher) requeue(tags []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(tags, b.pending...)
}

func (b *invalidationBatcher) stop() {
	close(b.stopCh)
	b.wg.Wait()
}
