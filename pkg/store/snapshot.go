package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/domain"
)

// SnapshotStore persists and retrieves aggregate snapshots.
type SnapshotStore interface {
	// Save persists a snapshot, replacing any prior snapshot at the same version.
	Save(ctx context.Context, snapshot domain.AggregateSnapshot) error

	// Load returns the latest snapshot for an aggregate.
	Load(ctx context.Context, aggregateID domain.AggregateId) (domain.AggregateSnapshot, bool, error)

	// LoadVersion returns the latest snapshot at or before the given version.
	LoadVersion(ctx context.Context, aggregateID domain.AggregateId, version int64) (domain.AggregateSnapshot, bool, error)

	// Exists reports whether any snapshot exists for an aggregate.
	Exists(ctx context.Context, aggregateID domain.AggregateId) (bool, error)

	// PruneSnapshots keeps only the most recent `keep` snapshots for an aggregate.
	PruneSnapshots(ctx context.Context, aggregateID domain.AggregateId, keep int) error

	// RemoveAll deletes every snapshot for an aggregate.
	RemoveAll(ctx context.Context, aggregateID domain.AggregateId) error

	// Stats reports aggregate statistics across the whole store.
	Stats(ctx context.Context) (SnapshotStats, error)
}

// SnapshotStats summarizes the snapshot store's contents.
type SnapshotStats struct {
	TotalSnapshots   int64
	UniqueAggregates int64
	OldestSnapshot   time.Time
	NewestSnapshot   time.Time
}

// ErrSnapshotNotFound is returned by LoadVersion when no snapshot exists
// at or before the requested version.
var ErrSnapshotNotFound = errors.New("store: snapshot not found")

// SnapshotStrategy decides when an aggregate should be snapshotted.
type SnapshotStrategy interface {
	// Name identifies the strategy for diagnostics and profile configuration.
	Name() string

	// ShouldSnapshot reports whether aggregate should be snapshotted now,
	// given the last snapshot taken for it (ok=false if none yet).
	ShouldSnapshot(ctx context.Context, aggregate domain.Aggregate, last domain.AggregateSnapshot, ok bool) bool
}

// SimpleSnapshotStrategy snapshots whenever the aggregate has advanced at
// least Threshold versions past its last snapshot.
type SimpleSnapshotStrategy struct {
	Threshold int64
}

// NewSimpleSnapshotStrategy builds a simple, threshold-based strategy.
// A non-positive threshold defaults to 10.
func NewSimpleSnapshotStrategy(threshold int64) *SimpleSnapshotStrategy {
	if threshold <= 0 {
		threshold = 10
	}
	return &SimpleSnapshotStrategy{Threshold: threshold}
}

func (s *SimpleSnapshotStrategy) Name() string { return "simple" }

func (s *SimpleSnapshotStrategy) ShouldSnapshot(_ context.Context, aggregate domain.Aggregate, last domain.AggregateSnapshot, ok bool) bool {
	var lastVersion int64
	if ok {
		lastVersion = last.Version
	}
	return aggregate.Version()-lastVersion >= s.Threshold
}

// AggregateMetrics supplies the signals AdaptiveSnapshotStrategy scores.
// A metrics provider with no data for an aggregate should return ok=false
// so the strategy can fall back to simple behavior.
type AggregateMetrics interface {
	// AccessFrequency returns accesses-per-minute for an aggregate.
	AccessFrequency(aggregateType string) (float64, bool)

	// AverageLoadTime returns the average reconstruction time for an
	// aggregate type.
	AverageLoadTime(aggregateType string) (time.Duration, bool)
}

// AdaptiveSnapshotStrategy combines aggregate complexity (approximated by
// version, as a proxy for event count), access frequency, and average
// load time into a score; it snapshots when the score crosses Threshold.
// With no metrics available it behaves exactly like SimpleSnapshotStrategy
// at the default threshold.
type AdaptiveSnapshotStrategy struct {
	Metrics         AggregateMetrics
	Threshold       float64
	DefaultFallback *SimpleSnapshotStrategy

	mu sync.Mutex
}

// NewAdaptiveSnapshotStrategy builds an adaptive strategy reading from metrics.
func NewAdaptiveSnapshotStrategy(metrics AggregateMetrics, threshold float64) *AdaptiveSnapshotStrategy {
	if threshold <= 0 {
		threshold = 1.0
	}
	return &AdaptiveSnapshotStrategy{
		Metrics:         metrics,
		Threshold:       threshold,
		DefaultFallback: NewSimpleSnapshotStrategy(10),
	}
}

func (s *AdaptiveSnapshotStrategy) Name() string { return "adaptive" }

func (s *AdaptiveSnapshotStrategy) ShouldSnapshot(ctx context.Context, aggregate domain.Aggregate, last domain.AggregateSnapshot, ok bool) bool {
	if s.Metrics == nil {
		return s.DefaultFallback.ShouldSnapshot(ctx, aggregate, last, ok)
	}

	freq, freqOK := s.Metrics.AccessFrequency(aggregate.Type())
	loadTime, loadOK := s.Metrics.AverageLoadTime(aggregate.Type())
	if !freqOK && !loadOK {
		return s.DefaultFallback.ShouldSnapshot(ctx, aggregate, last, ok)
	}

	var lastVersion int64
	if ok {
		lastVersion = last.Version
	}
	eventsSinceSnapshot := float64(aggregate.Version() - lastVersion)
	if eventsSinceSnapshot <= 0 {
		return false
	}

	complexityScore := eventsSinceSnapshot / 10.0

	var frequencyScore float64
	if freqOK {
		frequencyScore = freq / 60.0 // accesses/min normalized to accesses/sec
	}

	var loadScore float64
	if loadOK {
		loadScore = loadTime.Seconds() * 2
	}

	score := complexityScore + frequencyScore + loadScore
	return score >= s.Threshold
}
