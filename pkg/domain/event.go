package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventMetadata carries contextual information about an event, propagated
// from the command that caused it.
type EventMetadata struct {
	// CausationID is the ID of the command that caused this event.
	CausationID string `json:"causation_id,omitempty"`

	// CorrelationID traces related commands and events across aggregates.
	CorrelationID string `json:"correlation_id,omitempty"`

	// PrincipalID identifies the principal (user, service, system) who triggered this event.
	PrincipalID string `json:"principal_id,omitempty"`

	// TenantID identifies the tenant this event belongs to (multi-tenancy).
	TenantID string `json:"tenant_id,omitempty"`

	// Source identifies the producing component, for audit trails.
	Source string `json:"source,omitempty"`

	// Custom allows application-specific metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// ConstraintOperation specifies whether a UniqueConstraint claims or
// releases a unique value.
type ConstraintOperation string

const (
	// ConstraintClaim claims a unique value for this aggregate.
	ConstraintClaim ConstraintOperation = "claim"

	// ConstraintRelease releases a unique value previously claimed.
	ConstraintRelease ConstraintOperation = "release"
)

// UniqueConstraint represents a uniqueness claim or release on a value,
// validated atomically with the event that carries it (e.g. an email
// address claimed by a user-registration event).
type UniqueConstraint struct {
	IndexName string
	Value     string
	Operation ConstraintOperation
}

// DomainEvent is an immutable record of a state change applied to one
// aggregate. Events are value objects; once recorded they are never
// mutated. Payload is kept opaque (json.RawMessage) so the core stays
// payload-format agnostic — callers Unmarshal it into a concrete event
// struct keyed by EventType.
type DomainEvent struct {
	// ID is the unique identifier for this event (often deterministic, see GenerateDeterministicEventID).
	ID string

	// AggregateID is the identifier of the aggregate this event belongs to.
	AggregateID AggregateId

	// AggregateType is the type name of the aggregate (e.g. "Account", "Order").
	AggregateType string

	// EventType is the stable, fully qualified event name (e.g. "account.MoneyDeposited").
	EventType string

	// EventVersion is the schema revision of this event type.
	EventVersion int

	// Version is the per-aggregate position of this event (1-based).
	Version int64

	// OccurredAt is when the event was recorded, microsecond precision.
	OccurredAt time.Time

	// Payload is the opaque structured event data.
	Payload json.RawMessage

	// Metadata carries correlation/causation/tenant/principal context.
	Metadata EventMetadata

	// UniqueConstraints are claimed or released atomically with this event.
	UniqueConstraints []UniqueConstraint
}

// NewDomainEvent constructs an event with a random id and the current time.
func NewDomainEvent(aggregateID AggregateId, aggregateType, eventType string, version int64, payload any, metadata EventMetadata) (DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return DomainEvent{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventVersion:  1,
		Version:       version,
		OccurredAt:    Now(),
		Payload:       data,
		Metadata:      metadata,
	}, nil
}

// Unmarshal decodes the event payload into target.
func (e DomainEvent) Unmarshal(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// TimeFunc is overridable so tests get deterministic timestamps.
var TimeFunc = time.Now

// Now returns the current time via TimeFunc, truncated to microsecond
// precision per the event timestamp contract.
func Now() time.Time {
	return TimeFunc().UTC().Truncate(time.Microsecond)
}

// GenerateDeterministicEventID derives a stable event id from the command
// that produced it, so replaying the same command never mints new ids.
func GenerateDeterministicEventID(commandID string, aggregateID AggregateId, sequence int) string {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s:%s:%d", commandID, aggregateID, sequence)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// DefaultCommandTTL is the default time to remember processed commands for
// idempotent command replay.
const DefaultCommandTTL = 7 * 24 * time.Hour
