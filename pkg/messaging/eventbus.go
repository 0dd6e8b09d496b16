// Package messaging defines the transport-agnostic event bus contract used
// by the sdk client for publishing and subscribing to domain events. The
// projection pipeline and the command bus do not use it. Concrete
// transports (NATS JetStream, etc.) live in subpackages.
package messaging

import "github.com/eventflow/core/pkg/domain"

// EventBus publishes domain events to, and delivers them from, a durable
// pub/sub transport.
type EventBus interface {
	// Publish publishes events to all subscribers.
	Publish(events []domain.DomainEvent) error

	// Subscribe subscribes to events matching the filter.
	// The handler is called for each event.
	Subscribe(filter EventFilter, handler EventHandler) (Subscription, error)

	// Close closes the event bus and releases resources.
	Close() error
}

// EventFilter defines criteria for filtering events.
type EventFilter struct {
	// AggregateTypes filters by aggregate type (empty = all types)
	AggregateTypes []string

	// EventTypes filters by event type (empty = all types)
	EventTypes []string
}

// EventHandler processes an event.
// Return an error to nack the event (it will be retried based on bus configuration).
type EventHandler func(event domain.DomainEvent) error

// Subscription represents an active event subscription.
type Subscription interface {
	// Unsubscribe stops receiving events and cleans up resources.
	Unsubscribe() error
}
