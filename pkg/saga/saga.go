// Package saga implements the saga coordinator: long-running processes
// that react to events, dispatch commands, and compensate on failure.
package saga

import (
	"encoding/json"
	"time"

	"github.com/eventflow/core/pkg/domain"
)

// State is a saga's lifecycle state.
type State string

const (
	StatePending      State = "PENDING"
	StateRunning      State = "RUNNING"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateCompensating State = "COMPENSATING"
	StateCompensated  State = "COMPENSATED"
	StateTimedOut     State = "TIMED_OUT"
)

// nonTerminal reports whether a saga in this state is still active and
// subject to timeout sweeps.
func (s State) nonTerminal() bool {
	switch s {
	case StateCompleted, StateCompensated:
		return false
	default:
		return true
	}
}

// active reports whether a saga in this state should be offered new events.
func (s State) active() bool {
	switch s {
	case StatePending, StateRunning, StateCompensating:
		return true
	default:
		return false
	}
}

// Instance is the persisted shape of one saga: its type name, serialized
// state, and metadata, reconstituted into a concrete Saga by type name.
type Instance struct {
	ID        string
	Type      string
	State     State
	Data      json.RawMessage
	Metadata  map[string]string
	TimeoutAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Saga is a long-running process reacting to events, implemented by a
// concrete domain saga type. The coordinator restores the instance's
// persisted state through Unmarshal before calling the other methods, so
// implementations stay free of coordinator bookkeeping.
type Saga interface {
	// SagaType is the stable type name used to reconstitute this saga
	// from persisted state.
	SagaType() string

	// CanHandle reports whether this saga reacts to an event type.
	CanHandle(eventType string) bool

	// Handle processes an event, returning commands to dispatch via the
	// command bus. Implementations mutate their own in-memory state;
	// Marshal is called afterward to persist it.
	Handle(event domain.DomainEvent) ([]domain.Command, error)

	// ShouldComplete reports whether the saga has reached its terminal
	// success condition.
	ShouldComplete() bool

	// CompensationCommands returns the ordered list of compensating
	// commands, in the order of the effects they undo; the coordinator
	// dispatches them in reverse (LIFO).
	CompensationCommands() []domain.Command

	// Marshal serializes the saga's own state for persistence.
	Marshal() (json.RawMessage, error)

	// Unmarshal restores the saga's own state from persisted data.
	Unmarshal(data json.RawMessage) error
}

// Initiator is implemented optionally by saga types that can be started by
// an event matching their initial predicate, rather than only reacting to
// events of an already-running instance.
type Initiator interface {
	Saga
	// InitiatesOn reports whether event should start a new instance of
	// this saga type.
	InitiatesOn(event domain.DomainEvent) bool
	// NewInstance constructs a fresh saga for a just-matched initiating event.
	NewInstance(event domain.DomainEvent) Saga
}

// Factory reconstructs a zero-value Saga of a registered type, for
// Unmarshal to populate.
type Factory func() Saga
