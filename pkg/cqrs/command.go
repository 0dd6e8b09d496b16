// Package cqrs implements the command and query buses: middleware pipelines
// around a single handler per message type, with retries, async dispatch,
// and (for queries) multi-tier cache integration.
package cqrs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/core/pkg/domain"
)

// CommandHandler processes a command and returns the events produced.
type CommandHandler interface {
	Handle(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error)

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
	return f(ctx, cmd)
}

// CommandMiddleware wraps a handler with a cross-cutting concern. Higher
// Priority runs first (outermost); ShouldProcess lets a middleware opt out
// of a given command without being removed from the pipeline.
type CommandMiddleware interface {
	Name() string
	Priority() int
	ShouldProcess(cmd *domain.CommandEnvelope) bool
	Handle(next CommandHandler) CommandHandler
}

// MiddlewareFunc builds a CommandMiddleware from plain values, for
// middlewares with no state beyond their wrap function.
type MiddlewareFunc struct {
	NameValue     string
	PriorityValue int
	Predicate     func(cmd *domain.CommandEnvelope) bool
	Wrap          func(next CommandHandler) CommandHandler
}

func (m MiddlewareFunc) Name() string     { return m.NameValue }
func (m MiddlewareFunc) Priority() int    { return m.PriorityValue }
func (m MiddlewareFunc) Handle(next CommandHandler) CommandHandler {
	return m.Wrap(next)
}
func (m MiddlewareFunc) ShouldProcess(cmd *domain.CommandEnvelope) bool {
	if m.Predicate == nil {
		return true
	}
	return m.Predicate(cmd)
}

// AsyncStatus is the lifecycle state of an asynchronously dispatched command.
type AsyncStatus string

const (
	AsyncPending    AsyncStatus = "PENDING"
	AsyncProcessing AsyncStatus = "PROCESSING"
	AsyncCompleted  AsyncStatus = "COMPLETED"
	AsyncFailed     AsyncStatus = "FAILED"
	AsyncCancelled  AsyncStatus = "CANCELLED"
)

// AsyncResult tracks one async dispatch, keyed by AsyncID.
type AsyncResult struct {
	AsyncID   string
	Status    AsyncStatus
	Events    []domain.DomainEvent
	Err       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AsyncStrategy hands an envelope off for asynchronous execution. Sync runs
// inline; Queue enqueues a durable job elsewhere (e.g. via a message broker).
type AsyncStrategy interface {
	Dispatch(ctx context.Context, cmd *domain.CommandEnvelope, run func(context.Context) ([]domain.DomainEvent, error)) error
}

// SyncAsyncStrategy runs the command inline, so callers that don't need a
// separate worker pool still get the AsyncStatus bookkeeping contract.
type SyncAsyncStrategy struct{}

func (SyncAsyncStrategy) Dispatch(ctx context.Context, cmd *domain.CommandEnvelope, run func(context.Context) ([]domain.DomainEvent, error)) error {
	_, err := run(ctx)
	return err
}

// CommandBus routes commands to their registered handler through an
// ordered middleware pipeline.
type CommandBus interface {
	Send(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error)
	DispatchAsync(ctx context.Context, cmd *domain.CommandEnvelope) (string, error)
	AsyncStatus(asyncID string) (AsyncResult, bool)
	Register(commandType string, handler CommandHandler)
	Use(middleware CommandMiddleware)
}

// DefaultCommandBus is the standard in-process CommandBus: a handler
// registry plus a priority-ordered middleware chain rebuilt per dispatch.
type DefaultCommandBus struct {
	mu          sync.RWMutex
	handlers    map[string]CommandHandler
	middlewares []CommandMiddleware
	async       AsyncStrategy
	statusTTL   time.Duration

	statusMu sync.Mutex
	statuses map[string]AsyncResult
}

// NewCommandBus constructs a bus with the sync async strategy and a 1 hour
// status retention window; override either via the With* options.
func NewCommandBus(opts ...CommandBusOption) *DefaultCommandBus {
	b := &DefaultCommandBus{
		handlers:  make(map[string]CommandHandler),
		async:     SyncAsyncStrategy{},
		statusTTL: time.Hour,
		statuses:  make(map[string]AsyncResult),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CommandBusOption configures a DefaultCommandBus at construction time.
type CommandBusOption func(*DefaultCommandBus)

func WithAsyncStrategy(strategy AsyncStrategy) CommandBusOption {
	return func(b *DefaultCommandBus) { b.async = strategy }
}

func WithStatusTTL(ttl time.Duration) CommandBusOption {
	return func(b *DefaultCommandBus) { b.statusTTL = ttl }
}

// Register assigns the handler for a command type. Registering the same
// type twice is a programmer error — it panics, the same way the teacher's
// bus panicked on duplicate handler registration.
func (b *DefaultCommandBus) Register(commandType string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[commandType]; exists {
		panic(fmt.Sprintf("cqrs: handler already registered for command type %q", commandType))
	}
	b.handlers[commandType] = handler
}

// Use appends a middleware to the pipeline. The pipeline is rebuilt,
// highest priority first, on every Send/DispatchAsync call.
func (b *DefaultCommandBus) Use(middleware CommandMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, middleware)
}

func (b *DefaultCommandBus) resolve(cmd *domain.CommandEnvelope) (CommandHandler, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handler, ok := b.handlers[cmd.Command.CommandType()]
	if !ok {
		return nil, fmt.Errorf("cqrs: %w: no handler registered for command type %q", domain.ErrHandlerNotFound, cmd.Command.CommandType())
	}

	ordered := make([]CommandMiddleware, len(b.middlewares))
	copy(ordered, b.middlewares)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})

	// Wrap from the innermost (handler) outward so the highest-priority
	// middleware ends up outermost and runs first.
	wrapped := handler
	for i := len(ordered) - 1; i >= 0; i-- {
		mw := ordered[i]
		inner := wrapped
		wrapped = CommandHandlerFunc(func(ctx context.Context, c *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
			if !mw.ShouldProcess(c) {
				return inner.Handle(ctx, c)
			}
			return mw.Handle(inner).Handle(ctx, c)
		})
	}
	return wrapped, nil
}

// Send resolves the handler and middleware chain for cmd and executes it
// synchronously.
func (b *DefaultCommandBus) Send(ctx context.Context, cmd *domain.CommandEnvelope) ([]domain.DomainEvent, error) {
	handler, err := b.resolve(cmd)
	if err != nil {
		return nil, err
	}
	return handler.Handle(ctx, cmd)
}

// DispatchAsync hands cmd to the configured AsyncStrategy and returns an id
// that AsyncStatus can later resolve. It returns once the strategy's
// Dispatch returns; with the default SyncAsyncStrategy the command has
// already run by then.
func (b *DefaultCommandBus) DispatchAsync(ctx context.Context, cmd *domain.CommandEnvelope) (string, error) {
	handler, err := b.resolve(cmd)
	if err != nil {
		return "", err
	}

	asyncID := uuid.NewString()
	now := domain.Now()
	b.recordStatus(AsyncResult{AsyncID: asyncID, Status: AsyncPending, CreatedAt: now, UpdatedAt: now})

	run := func(runCtx context.Context) ([]domain.DomainEvent, error) {
		b.recordStatus(AsyncResult{AsyncID: asyncID, Status: AsyncProcessing, CreatedAt: now, UpdatedAt: domain.Now()})
		events, err := handler.Handle(runCtx, cmd)
		if err != nil {
			b.recordStatus(AsyncResult{AsyncID: asyncID, Status: AsyncFailed, Err: err.Error(), CreatedAt: now, UpdatedAt: domain.Now()})
			return nil, err
		}
		b.recordStatus(AsyncResult{AsyncID: asyncID, Status: AsyncCompleted, Events: events, CreatedAt: now, UpdatedAt: domain.Now()})
		return events, nil
	}

	if err := b.async.Dispatch(ctx, cmd, run); err != nil {
		return asyncID, err
	}
	return asyncID, nil
}

// AsyncStatus returns the current status of a previously dispatched async
// command. Entries older than statusTTL are evicted lazily on read.
func (b *DefaultCommandBus) AsyncStatus(asyncID string) (AsyncResult, bool) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	result, ok := b.statuses[asyncID]
	if !ok {
		return AsyncResult{}, false
	}
	if domain.Now().Sub(result.UpdatedAt) > b.statusTTL {
		delete(b.statuses, asyncID)
		return AsyncResult{}, false
	}
	return result, true
}

// CancelAsync marks a still-pending async command CANCELLED. Running jobs
// are not forcibly interrupted — cancellation is best-effort.
func (b *DefaultCommandBus) CancelAsync(asyncID string) bool {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	result, ok := b.statuses[asyncID]
	if !ok || result.Status != AsyncPending {
		return false
	}
	result.Status = AsyncCancelled
	result.UpdatedAt = domain.Now()
	b.statuses[asyncID] = result
	return true
}

func (b *DefaultCommandBus) recordStatus(result AsyncResult) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	b.statuses[result.AsyncID] = result
}

var _ CommandBus = (*DefaultCommandBus)(nil)
