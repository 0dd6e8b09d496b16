// Package config provides named deployment profiles that preset the
// framework's tuning knobs (snapshot strategy, cache sizing, TTLs, async
// and projection dispatch strategy) for a given scale of deployment.
package config

import (
	"time"

	"github.com/eventflow/core/pkg/cache"
	"github.com/eventflow/core/pkg/store"
)

// Profile names a deployment preset.
type Profile string

const (
	ProfileStartup    Profile = "startup"
	ProfileGrowth     Profile = "growth"
	ProfileScale      Profile = "scale"
	ProfileEnterprise Profile = "enterprise"
)

// AsyncStrategyKind names which cqrs.AsyncStrategy a profile prefers.
type AsyncStrategyKind string

const (
	AsyncSync  AsyncStrategyKind = "sync"
	AsyncQueue AsyncStrategyKind = "queue"
)

// ProjectionStrategyKind names which projection.DispatchStrategy a profile
// prefers as its default.
type ProjectionStrategyKind string

const (
	ProjectionRealtime ProjectionStrategyKind = "realtime"
	ProjectionAsync    ProjectionStrategyKind = "async"
	ProjectionBatched  ProjectionStrategyKind = "batched"
)

// Settings is the full set of tunables a profile presets. Any field may be
// overridden after resolution without affecting the named preset.
type Settings struct {
	Profile Profile

	SnapshotStrategyName string // "simple" or "adaptive"
	SnapshotThreshold    int64

	HotStoreTTL time.Duration

	CacheConfig cache.ManagerConfig
	L1Config    cache.L1Config

	AsyncStrategy      AsyncStrategyKind
	ProjectionStrategy ProjectionStrategyKind
	ProjectionBatchMaxSize int
	ProjectionBatchMaxAge  time.Duration
}

// Resolve returns the preset Settings for a named profile. Unknown profiles
// fall back to ProfileGrowth, a reasonable middle default.
func Resolve(profile Profile) Settings {
	switch profile {
	case ProfileStartup:
		return startupSettings()
	case ProfileScale:
		return scaleSettings()
	case ProfileEnterprise:
		return enterpriseSettings()
	default:
		return growthSettings()
	}
}

// startupSettings favors simplicity and low resource usage: a single
// in-process node, synchronous commands, realtime projections.
func startupSettings() Settings {
	return Settings{
		Profile:              ProfileStartup,
		SnapshotStrategyName: "simple",
		SnapshotThreshold:    50,
		HotStoreTTL:          5 * time.Minute,
		CacheConfig: cache.ManagerConfig{
			L1TTL: 30 * time.Second, L2TTL: 2 * time.Minute, L3TTL: 4 * time.Minute,
			InvalidationBatchSize: 20, InvalidationPerSecond: 10,
		},
		L1Config:           cache.L1Config{MaxEntries: 1_000, MaxBytes: 8 << 20, Strategy: cache.EvictLRU},
		AsyncStrategy:      AsyncSync,
		ProjectionStrategy: ProjectionRealtime,
	}
}

// growthSettings adds headroom for a growing write volume: adaptive
// snapshotting, a longer hot-store TTL, async command dispatch.
func growthSettings() Settings {
	return Settings{
		Profile:              ProfileGrowth,
		SnapshotStrategyName: "adaptive",
		SnapshotThreshold:    20,
		HotStoreTTL:          15 * time.Minute,
		CacheConfig: cache.ManagerConfig{
			L1TTL: time.Minute, L2TTL: 10 * time.Minute, L3TTL: 20 * time.Minute,
			InvalidationBatchSize: 100, InvalidationPerSecond: 50,
		},
		L1Config:               cache.L1Config{MaxEntries: 10_000, MaxBytes: 64 << 20, Strategy: cache.EvictLRU},
		AsyncStrategy:          AsyncQueue,
		ProjectionStrategy:     ProjectionAsync,
		ProjectionBatchMaxSize: 100,
		ProjectionBatchMaxAge:  5 * time.Second,
	}
}

// scaleSettings biases toward throughput: batched projections, a wider L1,
// longer cache TTLs to absorb read traffic.
func scaleSettings() Settings {
	return Settings{
		Profile:              ProfileScale,
		SnapshotStrategyName: "adaptive",
		SnapshotThreshold:    10,
		HotStoreTTL:          30 * time.Minute,
		CacheConfig: cache.ManagerConfig{
			L1TTL: 2 * time.Minute, L2TTL: 20 * time.Minute, L3TTL: 40 * time.Minute,
			InvalidationBatchSize: 500, InvalidationPerSecond: 200,
		},
		L1Config:               cache.L1Config{MaxEntries: 100_000, MaxBytes: 256 << 20, Strategy: cache.EvictLRU},
		AsyncStrategy:          AsyncQueue,
		ProjectionStrategy:     ProjectionBatched,
		ProjectionBatchMaxSize: 500,
		ProjectionBatchMaxAge:  2 * time.Second,
	}
}

// enterpriseSettings maximizes durability headroom and cache capacity for
// the largest deployments, with the most conservative snapshot threshold
// (snapshots are cheap relative to replay cost at this volume).
func enterpriseSettings() Settings {
	return Settings{
		Profile:              ProfileEnterprise,
		SnapshotStrategyName: "adaptive",
		SnapshotThreshold:    5,
		HotStoreTTL:          time.Hour,
		CacheConfig: cache.ManagerConfig{
			L1TTL: 5 * time.Minute, L2TTL: time.Hour, L3TTL: 2 * time.Hour,
			InvalidationBatchSize: 1_000, InvalidationPerSecond: 500,
		},
		L1Config:               cache.L1Config{MaxEntries: 1_000_000, MaxBytes: 1 << 30, Strategy: cache.EvictLRU},
		AsyncStrategy:          AsyncQueue,
		ProjectionStrategy:     ProjectionBatched,
		ProjectionBatchMaxSize: 1_000,
		ProjectionBatchMaxAge:  time.Second,
	}
}

// NewSnapshotStrategy builds the store.SnapshotStrategy named by Settings.
func (s Settings) NewSnapshotStrategy() store.SnapshotStrategy {
	if s.SnapshotStrategyName == "adaptive" {
		return store.NewAdaptiveSnapshotStrategy(nil, float64(s.SnapshotThreshold))
	}
	return store.NewSimpleSnapshotStrategy(s.SnapshotThreshold)
}
