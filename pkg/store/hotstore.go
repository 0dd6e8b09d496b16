package store

import (
	"context"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/domain"
)

// MemoryHotStore is a TTL-bounded, in-process HotStore. Entries are
// evicted lazily on access and by a background sweep; there is no
// persistence across process restarts.
type MemoryHotStore struct {
	mu      sync.RWMutex
	entries map[domain.AggregateId]*hotEntry
	ttl     time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

type hotEntry struct {
	stream    domain.EventStream
	expiresAt time.Time
}

// NewMemoryHotStore creates a hot tier with the given TTL and starts its
// background eviction sweep. Call Close to stop the sweep goroutine.
func NewMemoryHotStore(ttl time.Duration) *MemoryHotStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	h := &MemoryHotStore{
		entries: make(map[domain.AggregateId]*hotEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go h.sweepLoop()
	return h
}

func (h *MemoryHotStore) sweepLoop() {
	ticker := time.NewTicker(h.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopCh:
			return
		}
	}
}

func (h *MemoryHotStore) sweep() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.entries {
		if now.After(e.expiresAt) {
			delete(h.entries, id)
		}
	}
}

// Close stops the background sweep goroutine.
func (h *MemoryHotStore) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *MemoryHotStore) Get(ctx context.Context, aggregateID domain.AggregateId) (domain.EventStream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[aggregateID]
	if !ok || time.Now().After(e.expiresAt) {
		return domain.EventStream{}, false
	}
	return e.stream, true
}

func (h *MemoryHotStore) Put(ctx context.Context, aggregateID domain.AggregateId, stream domain.EventStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[aggregateID] = &hotEntry{stream: stream, expiresAt: time.Now().Add(h.ttl)}
}

func (h *MemoryHotStore) Append(ctx context.Context, aggregateID domain.AggregateId, events []domain.DomainEvent) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[aggregateID]
	if !ok {
		h.entries[aggregateID] = &hotEntry{
			stream:    domain.NewEventStream(aggregateID, append([]domain.DomainEvent(nil), events...)),
			expiresAt: time.Now().Add(h.ttl),
		}
		return
	}
	merged := append(append([]domain.DomainEvent(nil), e.stream.Events()...), events...)
	h.entries[aggregateID] = &hotEntry{
		stream:    domain.NewEventStream(aggregateID, merged),
		expiresAt: time.Now().Add(h.ttl),
	}
}

func (h *MemoryHotStore) Evict(ctx context.Context, aggregateID domain.AggregateId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, aggregateID)
}

func (h *MemoryHotStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
