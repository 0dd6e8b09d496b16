package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventflow/core/pkg/cqrs"
	"github.com/eventflow/core/pkg/domain"
	"github.com/eventflow/core/pkg/idgen"
)

// Coordinator routes events to active saga instances, dispatches the
// commands they emit through the command bus, and runs compensation when a
// saga fails or times out.
type Coordinator struct {
	store      Store
	bus        cqrs.CommandBus
	logger     *slog.Logger

	mu         sync.RWMutex
	factories  map[string]Factory
	initiators []Initiator
}

func NewCoordinator(store Store, bus cqrs.CommandBus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		bus:       bus,
		logger:    logger,
		factories: make(map[string]Factory),
	}
}

// RegisterType makes a saga type reconstitutable from persisted state.
func (c *Coordinator) RegisterType(sagaType string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[sagaType] = factory
}

// RegisterInitiator additionally allows instances of this saga type to be
// started by a matching event, independent of any existing instance.
func (c *Coordinator) RegisterInitiator(sagaType string, factory Factory, initiator Initiator) {
	c.RegisterType(sagaType, factory)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initiators = append(c.initiators, initiator)
}

// HandleEvent offers event to every active saga that handles it, and to
// every initiator whose predicate matches, dispatching any commands the
// sagas emit.
func (c *Coordinator) HandleEvent(ctx context.Context, event domain.DomainEvent) error {
	c.mu.RLock()
	initiators := append([]Initiator(nil), c.initiators...)
	c.mu.RUnlock()

	for _, initiator := range initiators {
		if initiator.InitiatesOn(event) {
			instance := initiator.NewInstance(event)
			if err := c.start(ctx, instance, event); err != nil {
				c.logger.Warn("saga initiation failed",
					slog.String("saga_type", instance.SagaType()), slog.String("error", err.Error()))
			}
		}
	}

	active, err := c.store.LoadActive(ctx)
	if err != nil {
		return err
	}
	for _, instance := range active {
		s, err := c.hydrate(instance)
		if err != nil {
			c.logger.Warn("saga hydration failed", slog.String("saga_id", instance.ID), slog.String("error", err.Error()))
			continue
		}
		if !s.CanHandle(event.EventType) {
			continue
		}
		if err := c.process(ctx, instance, s, event); err != nil {
			c.logger.Warn("saga processing failed", slog.String("saga_id", instance.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Coordinator) start(ctx context.Context, s Saga, event domain.DomainEvent) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	instance := Instance{
		ID:        idgen.MustGenerateSortableID(),
		Type:      s.SagaType(),
		State:     StatePending,
		Data:      data,
		Metadata:  map[string]string{},
		CreatedAt: domain.Now(),
		UpdatedAt: domain.Now(),
	}
	if err := c.store.Save(ctx, instance); err != nil {
		return err
	}
	return c.process(ctx, instance, s, event)
}

func (c *Coordinator) process(ctx context.Context, instance Instance, s Saga, event domain.DomainEvent) error {
	commands, err := s.Handle(event)
	if err != nil {
		if domain.IsRetryable(err) {
			return err
		}
		instance.State = StateFailed
		return c.persist(ctx, instance, s)
	}

	if instance.State == StatePending {
		instance.State = StateRunning
	}

	for _, cmd := range commands {
		if _, err := c.bus.Send(ctx, &domain.CommandEnvelope{Command: cmd, Metadata: domain.CommandMetadata{
			CommandID: cmd.CommandID(), CorrelationID: instance.ID, Timestamp: domain.Now(),
		}}); err != nil {
			c.logger.Warn("saga-dispatched command failed",
				slog.String("saga_id", instance.ID), slog.String("command_type", cmd.CommandType()), slog.String("error", err.Error()))
		}
	}

	if s.ShouldComplete() {
		instance.State = StateCompleted
		return c.persist(ctx, instance, s)
	}

	return c.persist(ctx, instance, s)
}

func (c *Coordinator) persist(ctx context.Context, instance Instance, s Saga) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	instance.Data = data
	instance.UpdatedAt = domain.Now()
	if err := c.store.Save(ctx, instance); err != nil {
		return err
	}
	if instance.State == StateFailed {
		return c.beginCompensation(ctx, instance, s)
	}
	return nil
}

// beginCompensation transitions a failed saga into COMPENSATING and runs
// its compensation commands sequentially (LIFO), marking COMPENSATED on
// full success or FAILED (requiring manual intervention) on any failure.
func (c *Coordinator) beginCompensation(ctx context.Context, instance Instance, s Saga) error {
	instance.State = StateCompensating
	if err := c.store.Save(ctx, instance); err != nil {
		return err
	}

	commands := s.CompensationCommands()
	for i := len(commands) - 1; i >= 0; i-- {
		cmd := commands[i]
		if _, err := c.bus.Send(ctx, &domain.CommandEnvelope{Command: cmd, Metadata: domain.CommandMetadata{
			CommandID: cmd.CommandID(), CorrelationID: instance.ID, Timestamp: domain.Now(),
		}}); err != nil {
			instance.State = StateFailed
			_ = c.store.Save(ctx, instance)
			c.logger.Error("saga compensation failed, manual intervention required",
				slog.String("saga_id", instance.ID), slog.String("command_type", cmd.CommandType()), slog.String("error", err.Error()))
			return fmt.Errorf("saga %s compensation failed: %w", instance.ID, err)
		}
	}

	instance.State = StateCompensated
	return c.store.Save(ctx, instance)
}

func (c *Coordinator) hydrate(instance Instance) (Saga, error) {
	c.mu.RLock()
	factory, ok := c.factories[instance.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("saga: no factory registered for type %q", instance.Type)
	}
	s := factory()
	if err := s.Unmarshal(instance.Data); err != nil {
		return nil, err
	}
	return s, nil
}

// SweepTimeouts transitions every non-terminal saga whose timeout has
// elapsed to TIMED_OUT and initiates compensation.
func (c *Coordinator) SweepTimeouts(ctx context.Context) error {
	timedOut, err := c.store.LoadTimedOut(ctx, domain.Now().Unix())
	if err != nil {
		return err
	}
	for _, instance := range timedOut {
		s, err := c.hydrate(instance)
		if err != nil {
			c.logger.Warn("timeout sweep hydration failed", slog.String("saga_id", instance.ID), slog.String("error", err.Error()))
			continue
		}
		instance.State = StateTimedOut
		if err := c.store.Save(ctx, instance); err != nil {
			return err
		}
		if err := c.beginCompensation(ctx, instance, s); err != nil {
			c.logger.Warn("timeout compensation failed", slog.String("saga_id", instance.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// errNilStore guards against a coordinator constructed without a store, a
// programmer error rather than a runtime condition.
var errNilStore = errors.New("saga: store is required")

// PeriodicSweep runs SweepTimeouts on interval until ctx is cancelled.
func (c *Coordinator) PeriodicSweep(ctx context.Context, interval time.Duration) {
	if c.store == nil {
		c.logger.Error(errNilStore.Error())
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SweepTimeouts(ctx); err != nil {
				c.logger.Warn("saga timeout sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
