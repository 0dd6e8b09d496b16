// Package txn implements the transaction manager: local transactions with
// configurable isolation and deadlock retry, plus a distributed two-phase
// commit coordinator for transactions spanning multiple participants.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eventflow/core/pkg/domain"
)

// IsolationLevel mirrors the SQL standard isolation levels. Not every
// storage engine supports all four; sql.TxOptions maps the closest
// available level.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) sqlLevel() sql.IsolationLevel {
	switch l {
	case ReadUncommitted:
		return sql.LevelReadUncommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

// Options configures one call to ExecuteInTransaction.
type Options struct {
	Isolation     IsolationLevel
	Timeout       time.Duration
	ReadOnly      bool
	MaxDeadlockRetries uint
}

// DefaultOptions returns read-committed, no timeout, up to 3 deadlock retries.
func DefaultOptions() Options {
	return Options{
		Isolation:          ReadCommitted,
		MaxDeadlockRetries: 3,
	}
}

// Scope is handed to the function running inside a transaction. It exposes
// the underlying *sql.Tx plus commit/rollback lifecycle hooks.
type Scope struct {
	Tx *sql.Tx

	mu              sync.Mutex
	afterCommit     []func()
	afterRollback   []func()
}

// AfterCommit registers a callback that fires exactly once, after the
// transaction commits successfully. Hook failures (panics) are recovered,
// logged, and never affect the already-committed outcome.
func (s *Scope) AfterCommit(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterCommit = append(s.afterCommit, cb)
}

// AfterRollback registers a callback that fires exactly once, after the
// transaction rolls back.
func (s *Scope) AfterRollback(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterRollback = append(s.afterRollback, cb)
}

func (s *Scope) runHooks(logger *slog.Logger, hooks []func()) {
	for _, cb := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("transaction hook panicked", slog.Any("panic", r))
				}
			}()
			cb()
		}()
	}
}

// Manager wraps a *sql.DB with the executeInTransaction contract: isolation
// level, timeout, read-only mode, and deadlock retry.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewManager(db *sql.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, logger: logger}
}

// ErrDeadlock classifies an error as a storage-level deadlock, retryable by
// ExecuteInTransaction regardless of the caller's own retry policy.
var ErrDeadlock = errors.New("transaction deadlock")

// isDeadlock recognizes SQLite's "database is locked"/"database table is locked"
// errors, the closest analogue to a relational deadlock in this store.
func isDeadlock(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// ExecuteInTransaction runs fn inside a transaction with opts applied,
// retrying on deadlock with exponential backoff up to opts.MaxDeadlockRetries.
func (m *Manager) ExecuteInTransaction(ctx context.Context, opts Options, fn func(ctx context.Context, scope *Scope) error) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	operation := func() (struct{}, error) {
		err := m.attempt(ctx, opts, fn)
		if err != nil && isDeadlock(err) {
			return struct{}{}, fmt.Errorf("%w: %w", ErrDeadlock, err)
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(opts.MaxDeadlockRetries+1),
	)
	return err
}

func (m *Manager) attempt(ctx context.Context, opts Options, fn func(ctx context.Context, scope *Scope) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: opts.Isolation.sqlLevel(), ReadOnly: opts.ReadOnly})
	if err != nil {
		return domain.NewTransientStorageError("begin transaction", err)
	}

	scope := &Scope{Tx: tx}
	if err := fn(ctx, scope); err != nil {
		_ = tx.Rollback()
		scope.runHooks(m.logger, scope.afterRollback)
		return err
	}

	if err := tx.Commit(); err != nil {
		scope.runHooks(m.logger, scope.afterRollback)
		if isDeadlock(err) {
			return err
		}
		return domain.NewTransientStorageError("commit transaction", err)
	}
	scope.runHooks(m.logger, scope.afterCommit)
	return nil
}

// DistributedStatus is the lifecycle state of a two-phase-commit transaction.
type DistributedStatus string

const (
	DistPending   DistributedStatus = "PENDING"
	DistPrepared  DistributedStatus = "PREPARED"
	DistCommitted DistributedStatus = "COMMITTED"
	DistRolledBack DistributedStatus = "ROLLED_BACK"
)

// Participant is one resource enlisted in a distributed transaction. Prepare
// must durably persist enough state to guarantee Commit can later succeed.
type Participant interface {
	Name() string
	Prepare(ctx context.Context, txnID string) error
	Commit(ctx context.Context, txnID string) error
	Rollback(ctx context.Context, txnID string) error
}

// DistributedState is the externally persisted record of one in-flight
// distributed transaction, so it survives process restarts.
type DistributedState struct {
	TxnID        string
	Status       DistributedStatus
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DistributedStateStore persists DistributedState with a bounded TTL.
type DistributedStateStore interface {
	Save(ctx context.Context, state DistributedState) error
	Load(ctx context.Context, txnID string) (DistributedState, bool, error)
}

// Coordinator drives the two-phase commit protocol: prepare every
// participant, then commit every participant. A prepare failure rolls back
// the participants prepared so far; a commit failure rolls back all
// participants.
type Coordinator struct {
	store  DistributedStateStore
	logger *slog.Logger
}

func NewCoordinator(store DistributedStateStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Execute runs the full two-phase commit protocol for txnID against participants.
func (c *Coordinator) Execute(ctx context.Context, txnID string, participants []Participant) error {
	names := make([]string, len(participants))
	for i, p := range participants {
		names[i] = p.Name()
	}
	now := domain.Now()
	state := DistributedState{TxnID: txnID, Status: DistPending, Participants: names, CreatedAt: now, UpdatedAt: now}
	if err := c.store.Save(ctx, state); err != nil {
		return fmt.Errorf("persist distributed transaction state: %w", err)
	}

	prepared := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if err := p.Prepare(ctx, txnID); err != nil {
			c.logger.Error("participant prepare failed", slog.String("participant", p.Name()), slog.String("error", err.Error()))
			c.rollback(ctx, txnID, prepared)
			return fmt.Errorf("prepare failed for participant %s: %w", p.Name(), err)
		}
		prepared = append(prepared, p)
	}

	state.Status = DistPrepared
	state.UpdatedAt = domain.Now()
	if err := c.store.Save(ctx, state); err != nil {
		c.rollback(ctx, txnID, prepared)
		return fmt.Errorf("persist prepared state: %w", err)
	}

	for _, p := range participants {
		if err := p.Commit(ctx, txnID); err != nil {
			c.logger.Error("participant commit failed; rolling back",
				slog.String("participant", p.Name()), slog.String("txn_id", txnID), slog.String("error", err.Error()))
			c.rollback(ctx, txnID, participants)
			return fmt.Errorf("commit failed for participant %s: %w", p.Name(), err)
		}
	}

	state.Status = DistCommitted
	state.UpdatedAt = domain.Now()
	return c.store.Save(ctx, state)
}

func (c *Coordinator) rollback(ctx context.Context, txnID string, participants []Participant) {
	for _, p := range participants {
		if err := p.Rollback(ctx, txnID); err != nil {
			c.logger.Error("participant rollback failed", slog.String("participant", p.Name()), slog.String("error", err.Error()))
		}
	}
}
