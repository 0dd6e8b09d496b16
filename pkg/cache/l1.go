package cache

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/domain"
)

// L1Config bounds the in-process tier by entry count and approximate
// memory (sum of cached value byte lengths).
type L1Config struct {
	MaxEntries int
	MaxBytes   int64
	Strategy   EvictionStrategy
}

// DefaultL1Config returns a 10k-entry, 64MB, LRU-evicted L1.
func DefaultL1Config() L1Config {
	return L1Config{MaxEntries: 10_000, MaxBytes: 64 << 20, Strategy: EvictLRU}
}

// L1 is the in-process cache tier.
type L1 struct {
	mu      sync.Mutex
	entries map[string]Entry
	bytes   int64
	cfg     L1Config
}

func NewL1(cfg L1Config) *L1 {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultL1Config().MaxEntries
	}
	if cfg.Strategy == "" {
		cfg.Strategy = EvictLRU
	}
	return &L1{entries: make(map[string]Entry), cfg: cfg}
}

func (l *L1) Get(ctx context.Context, key string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if domain.Now().After(entry.ExpiresAt) {
		delete(l.entries, key)
		l.bytes -= int64(len(entry.Value))
		return Entry{}, false, nil
	}
	entry.AccessCount++
	entry.LastAccessed = domain.Now()
	l.entries[key] = entry
	return entry, true, nil
}

func (l *L1) Set(ctx context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[entry.Key]; ok {
		l.bytes -= int64(len(existing.Value))
	}
	l.entries[entry.Key] = entry
	l.bytes += int64(len(entry.Value))

	l.evictIfNeeded()
	return nil
}

func (l *L1) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.entries[key]; ok {
		l.bytes -= int64(len(existing.Value))
		delete(l.entries, key)
	}
	return nil
}

func (l *L1) InvalidateTags(ctx context.Context, tags []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	for key, entry := range l.entries {
		for _, t := range entry.Tags {
			if tagSet[t] {
				l.bytes -= int64(len(entry.Value))
				delete(l.entries, key)
				break
			}
		}
	}
	return nil
}

func (l *L1) Close() error { return nil }

// evictIfNeeded runs under l.mu. It removes entries per the configured
// strategy until both count and memory bounds are satisfied.
func (l *L1) evictIfNeeded() {
	for len(l.entries) > l.cfg.MaxEntries || (l.cfg.MaxBytes > 0 && l.bytes > l.cfg.MaxBytes) {
		victim, ok := l.pickVictim()
		if !ok {
			return
		}
		l.bytes -= int64(len(l.entries[victim].Value))
		delete(l.entries, victim)
	}
}

func (l *L1) pickVictim() (string, bool) {
	if len(l.entries) == 0 {
		return "", false
	}

	switch l.cfg.Strategy {
	case EvictTTL:
		var victim string
		var earliest time.Time
		first := true
		for k, e := range l.entries {
			if first || e.ExpiresAt.Before(earliest) {
				victim, earliest, first = k, e.ExpiresAt, false
			}
		}
		return victim, true
	case EvictSize:
		var victim string
		var largest int
		first := true
		for k, e := range l.entries {
			if first || len(e.Value) > largest {
				victim, largest, first = k, len(e.Value), false
			}
		}
		return victim, true
	case EvictRandom:
		idx := rand.Intn(len(l.entries))
		i := 0
		for k := range l.entries {
			if i == idx {
				return k, true
			}
			i++
		}
		return "", false
	default: // EvictLRU
		var victim string
		var oldest time.Time
		first := true
		for k, e := range l.entries {
			if first || e.LastAccessed.Before(oldest) {
				victim, oldest, first = k, e.LastAccessed, false
			}
		}
		return victim, true
	}
}

var _ Tier = (*L1)(nil)
