package domain

import (
	"encoding/json"
	"fmt"
)

// Aggregate is the consistency boundary and unit of versioning for
// optimistic concurrency. Concrete aggregates embed AggregateRoot and
// implement ApplyEvent to fold an event into their own state.
type Aggregate interface {
	// ID returns the unique identifier of the aggregate.
	ID() AggregateId

	// Type returns the type name of the aggregate.
	Type() string

	// Version returns the current version of the aggregate.
	Version() int64

	// ApplyEvent applies a historical or just-produced event to the
	// aggregate's state. Called both during replay and immediately
	// after ApplyChange.
	ApplyEvent(event DomainEvent) error

	// UncommittedEvents returns events produced but not yet persisted.
	UncommittedEvents() []DomainEvent

	// ClearUncommittedEvents clears the uncommitted buffer; called only
	// after a successful append to storage.
	ClearUncommittedEvents()
}

// EventUpcaster lets an aggregate convert an old event schema revision
// to the current one before ApplyEvent folds it into state.
type EventUpcaster interface {
	UpcastEvent(event DomainEvent) DomainEvent
}

// SnapshotUpcaster lets an aggregate convert an old snapshot schema
// revision to the current one after deserializing.
type SnapshotUpcaster interface {
	UpcastSnapshot(data json.RawMessage) json.RawMessage
}

// Snapshotable is implemented by aggregates that support the snapshot
// shortcut: MarshalSnapshot serializes current state, UnmarshalSnapshot
// seeds state from a previously saved snapshot.
type Snapshotable interface {
	MarshalSnapshot() (json.RawMessage, error)
	UnmarshalSnapshot(data json.RawMessage) error
}

// AggregateRoot provides the embeddable base functionality shared by all
// aggregates: identity, version tracking, and the uncommitted-event
// buffer. Concrete aggregates embed it and call ApplyChange from their
// command-handling methods.
type AggregateRoot struct {
	id                AggregateId
	aggregateType     string
	version           int64
	uncommittedEvents []DomainEvent
	commandID         string // current command being processed, for deterministic event ids
}

// NewAggregateRoot creates a new aggregate root with the given id and type.
func NewAggregateRoot(id AggregateId, aggregateType string) AggregateRoot {
	return AggregateRoot{
		id:            id,
		aggregateType: aggregateType,
	}
}

// ID returns the aggregate's unique identifier.
func (a *AggregateRoot) ID() AggregateId { return a.id }

// Type returns the aggregate's type name.
func (a *AggregateRoot) Type() string { return a.aggregateType }

// Version returns the aggregate's current version.
func (a *AggregateRoot) Version() int64 { return a.version }

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateRoot) UncommittedEvents() []DomainEvent {
	return a.uncommittedEvents
}

// ClearUncommittedEvents clears the uncommitted events list.
func (a *AggregateRoot) ClearUncommittedEvents() {
	a.uncommittedEvents = nil
}

// SetCommandID records the command currently being processed, enabling
// deterministic event ids for idempotent replay. Repositories call this
// before invoking a command handler.
func (a *AggregateRoot) SetCommandID(commandID string) {
	a.commandID = commandID
}

// ApplyChange records a new event produced by the aggregate: it is
// appended to the uncommitted buffer and the aggregate's version is
// incremented by exactly one. It does not fold the event into state —
// callers are expected to also invoke their own apply method (typically
// from the same command handler) so in-memory state reflects the change
// immediately.
func (a *AggregateRoot) ApplyChange(payload any, eventType string, metadata EventMetadata) (DomainEvent, error) {
	return a.ApplyChangeWithConstraints(payload, eventType, metadata, nil)
}

// ApplyChangeWithConstraints is ApplyChange plus unique constraints that
// will be validated atomically when the event is persisted.
func (a *AggregateRoot) ApplyChangeWithConstraints(
	payload any,
	eventType string,
	metadata EventMetadata,
	constraints []UniqueConstraint,
) (DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal event payload: %w", err)
	}

	var eventID string
	if a.commandID != "" {
		eventID = GenerateDeterministicEventID(a.commandID, a.id, len(a.uncommittedEvents))
	} else {
		eventID = GenerateID()
	}

	evt := DomainEvent{
		ID:                eventID,
		AggregateID:       a.id,
		AggregateType:     a.aggregateType,
		EventType:         eventType,
		EventVersion:      1,
		Version:           a.version + 1,
		OccurredAt:        Now(),
		Payload:           data,
		Metadata:          metadata,
		UniqueConstraints: constraints,
	}

	a.uncommittedEvents = append(a.uncommittedEvents, evt)
	a.version++

	return evt, nil
}

// RestoreVersion seeds the aggregate's version bookkeeping from a snapshot,
// before any tail events are replayed via LoadFromHistory. Repositories must
// call this on a snapshot hit; otherwise an aggregate loaded from a snapshot
// with no tail events reports version 0.
func (a *AggregateRoot) RestoreVersion(v int64) {
	a.version = v
}

// LoadFromHistory advances the aggregate's version bookkeeping to match a
// batch of historical events. Concrete aggregates still must fold each
// event's payload into state via their own ApplyEvent.
func (a *AggregateRoot) LoadFromHistory(events []DomainEvent) error {
	for _, evt := range events {
		if evt.Version <= a.version {
			continue
		}
		a.version = evt.Version
	}
	return nil
}

// GenerateID returns a new random unique identifier, for events produced
// outside a command context.
func GenerateID() string {
	return NewAggregateId().String()
}
