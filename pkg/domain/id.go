package domain

import "github.com/google/uuid"

// AggregateId is an opaque, comparable identifier for an aggregate.
// Equality is defined by string form, so callers may freely construct
// one from a stored string without going through NewAggregateId.
type AggregateId string

// NewAggregateId generates a new random aggregate identifier.
func NewAggregateId() AggregateId {
	return AggregateId(uuid.NewString())
}

// AggregateIdFromString wraps an existing identifier string.
func AggregateIdFromString(s string) AggregateId {
	return AggregateId(s)
}

// String returns the identifier's string form.
func (id AggregateId) String() string {
	return string(id)
}

// IsZero reports whether the identifier is unset.
func (id AggregateId) IsZero() bool {
	return id == ""
}
