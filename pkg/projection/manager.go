package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/store"
)

// HealthStatus classifies a projector's replay lag.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthWarning  HealthStatus = "WARNING"
	HealthCritical HealthStatus = "CRITICAL"
	HealthDegraded HealthStatus = "DEGRADED"
)

const (
	lagWarningThreshold  = 1_000
	lagCriticalThreshold = 10_000
)

// Health reports a single projector's operational state.
type Health struct {
	ProjectionName string
	Status         HealthStatus
	Lag            int64
	LastError      error
	LastErrorAt    time.Time
}

// ManagerConfig tunes replay batching and the lock duration held while a
// projector is advancing.
type ManagerConfig struct {
	BatchSize   int
	LockTimeout time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{BatchSize: 100, LockTimeout: 30 * time.Second}
}

type registration struct {
	projector Projector
	filter    EventFilter
	disabled  bool

	mu          sync.Mutex
	lastErr     error
	lastErrAt   time.Time
}

// Manager iterates registered projectors, advancing each independently via
// its own checkpoint and lock, so one projector's error never blocks
// another's progress.
type Manager struct {
	cfg         ManagerConfig
	events      store.EventStore
	checkpoints store.CheckpointStore
	status      store.ProjectionStatusStore
	logger      *slog.Logger

	mu    sync.RWMutex
	regs  map[string]*registration
}

func NewManager(events store.EventStore, checkpoints store.CheckpointStore, status store.ProjectionStatusStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:         cfg,
		events:      events,
		checkpoints: checkpoints,
		status:      status,
		logger:      logger,
		regs:        make(map[string]*registration),
	}
}

// Register adds a projector to the pipeline, enabled by default.
func (m *Manager) Register(p Projector) {
	filter := EventFilter{}
	if fp, ok := p.(FilteredProjector); ok {
		filter = fp.Filter()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[p.Name()] = &registration{projector: p, filter: filter}
}

// Disable/Enable toggle whether ProcessNew advances a projector.
func (m *Manager) Disable(name string) { m.setEnabled(name, true) }
func (m *Manager) Enable(name string)  { m.setEnabled(name, false) }

func (m *Manager) setEnabled(name string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.regs[name]; ok {
		r.disabled = disabled
	}
}

// ProcessNew advances every enabled projector from its checkpoint, reading
// events in configured-size batches. A projector that errors is skipped for
// the rest of this pass; its checkpoint stays at the last event it handled,
// so the failing event is retried next pass, and other projectors continue.
func (m *Manager) ProcessNew(ctx context.Context) error {
	m.mu.RLock()
	regs := make([]*registration, 0, len(m.regs))
	for _, r := range m.regs {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	for _, r := range regs {
		if r.disabled {
			continue
		}
		if err := m.advance(ctx, r); err != nil {
			m.logger.Warn("projector advance failed",
				slog.String("projection", r.projector.Name()), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (m *Manager) advance(ctx context.Context, r *registration) error {
	name := r.projector.Name()

	locked, err := m.checkpoints.TryLock(ctx, name, domain.Now().Add(m.cfg.LockTimeout))
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	defer func() {
		if err := m.checkpoints.Unlock(ctx, name); err != nil {
			m.logger.Warn("projector unlock failed", slog.String("projection", name), slog.String("error", err.Error()))
		}
	}()

	cp, _, err := m.checkpoints.Load(ctx, name)
	if err != nil {
		return err
	}
	position := cp.LastProcessedSequence

	for {
		batch, err := m.events.LoadAllEvents(ctx, position, m.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, event := range batch {
			position++
			if !r.filter.Matches(event) {
				continue
			}
			if err := r.projector.Handle(ctx, event); err != nil {
				r.mu.Lock()
				r.lastErr = err
				r.lastErrAt = domain.Now()
				r.mu.Unlock()
				m.recordStatus(ctx, name, store.ProjectionStatusFailed, err.Error())
				return fmt.Errorf("projector %q handling event %q: %w", name, event.ID, err)
			}
			if err := m.checkpoints.Save(ctx, store.ProjectionCheckpoint{ProjectionName: name, LastProcessedSequence: position}); err != nil {
				return err
			}
		}

		if len(batch) < m.cfg.BatchSize {
			m.recordStatus(ctx, name, store.ProjectionStatusReady, "")
			return nil
		}
	}
}

func (m *Manager) recordStatus(ctx context.Context, name string, status store.ProjectionStatus, message string) {
	if m.status == nil {
		return
	}
	if err := m.status.Save(ctx, store.ProjectionState{ProjectionName: name, Status: status, Message: message, UpdatedAt: domain.Now()}); err != nil {
		m.logger.Warn("projection status save failed", slog.String("projection", name), slog.String("error", err.Error()))
	}
}

// Rebuild resets a projector's read model and checkpoint, then replays from
// fromSequence (or from the beginning, if fromSequence is 0).
func (m *Manager) Rebuild(ctx context.Context, name string, fromSequence int64) error {
	m.mu.RLock()
	r, ok := m.regs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("projection: no projector registered as %q", name)
	}

	locked, err := m.checkpoints.TryLock(ctx, name, domain.Now().Add(m.cfg.LockTimeout))
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("projection: %q is currently locked by another worker", name)
	}
	defer m.checkpoints.Unlock(ctx, name)

	if fromSequence == 0 {
		if err := r.projector.Reset(ctx); err != nil {
			return err
		}
		if err := m.checkpoints.Delete(ctx, name); err != nil {
			return err
		}
	}

	latest, err := m.events.LatestSequence(ctx)
	if err != nil {
		return err
	}
	m.recordStatus(ctx, name, store.ProjectionStatusRebuilding, "")

	position := fromSequence
	var processed int64
	for {
		batch, err := m.events.LoadAllEvents(ctx, position, rebuildBatchSize)
		if err != nil {
			m.recordStatus(ctx, name, store.ProjectionStatusFailed, err.Error())
			return err
		}
		if len(batch) == 0 {
			break
		}
		for _, event := range batch {
			position++
			if r.filter.Matches(event) {
				if err := r.projector.Handle(ctx, event); err != nil {
					m.recordStatus(ctx, name, store.ProjectionStatusFailed, err.Error())
					return fmt.Errorf("projector %q handling event %q during rebuild: %w", name, event.ID, err)
				}
			}
			processed++
		}
		if m.status != nil {
			_ = m.status.UpdateProgress(ctx, name, store.RebuildProgress{EventsProcessed: processed, TotalEvents: latest})
		}
		if len(batch) < rebuildBatchSize {
			break
		}
	}

	if err := m.checkpoints.Save(ctx, store.ProjectionCheckpoint{ProjectionName: name, LastProcessedSequence: position}); err != nil {
		return err
	}
	m.recordStatus(ctx, name, store.ProjectionStatusReady, "")
	return nil
}

const rebuildBatchSize = 1000

// Health reports lag and error-recency status for every registered
// projector.
func (m *Manager) Health(ctx context.Context) ([]Health, error) {
	latest, err := m.events.LatestSequence(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Health, 0, len(m.regs))
	for name, r := range m.regs {
		cp, _, err := m.checkpoints.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		lag := latest - cp.LastProcessedSequence
		if lag < 0 {
			lag = 0
		}

		status := classifyLag(lag)

		r.mu.Lock()
		lastErr, lastErrAt := r.lastErr, r.lastErrAt
		r.mu.Unlock()
		if lastErr != nil && domain.Now().Sub(lastErrAt) < time.Hour {
			status = HealthDegraded
		}

		results = append(results, Health{
			ProjectionName: name,
			Status:         status,
			Lag:            lag,
			LastError:      lastErr,
			LastErrorAt:    lastErrAt,
		})
	}
	return results, nil
}

func classifyLag(lag int64) HealthStatus {
	switch {
	case lag >= lagCriticalThreshold:
		return HealthCritical
	case lag >= lagWarningThreshold:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
