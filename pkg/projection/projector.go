// Package projection implements the projection pipeline: the Projector
// contract, a checkpointed and lockable Manager, and the
// realtime/async/batched dispatch strategies that fan events out to
// projectors.
package projection

import (
	"context"

	"github.com/eventflow/core/pkg/domain"
)

// Projector builds and maintains a read model from events.
type Projector interface {
	// Name returns the unique name of this projector.
	Name() string

	// Handle processes a single event and updates the read model.
	Handle(ctx context.Context, event domain.DomainEvent) error

	// Reset clears the projector's read model state, ahead of a rebuild.
	Reset(ctx context.Context) error
}

// EventFilter narrows which events a projector receives, letting the
// manager avoid invoking Handle for events the projector would ignore.
type EventFilter struct {
	AggregateTypes []string
	EventTypes     []string
}

// Matches reports whether an event passes the filter. An empty filter
// matches everything.
func (f EventFilter) Matches(event domain.DomainEvent) bool {
	if len(f.AggregateTypes) > 0 && !contains(f.AggregateTypes, event.AggregateType) {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, event.EventType) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FilteredProjector narrows a Projector's incoming events is implemented
// optionally to let the manager skip Handle calls entirely.
type FilteredProjector interface {
	Projector
	Filter() EventFilter
}
