package domain

// EventStream is a finite, ordered sequence of events for one aggregate.
// It is lazy-friendly to build (Append) but indexable for consumers.
type EventStream struct {
	aggregateID AggregateId
	events      []DomainEvent
}

// NewEventStream wraps a slice of events, ordered by version ascending.
func NewEventStream(aggregateID AggregateId, events []DomainEvent) EventStream {
	return EventStream{aggregateID: aggregateID, events: events}
}

// AggregateID returns the stream's owning aggregate.
func (s EventStream) AggregateID() AggregateId { return s.aggregateID }

// Events returns the underlying slice; callers must not mutate it.
func (s EventStream) Events() []DomainEvent { return s.events }

// Len returns the number of events in the stream.
func (s EventStream) Len() int { return len(s.events) }

// IsEmpty reports whether the stream has no events.
func (s EventStream) IsEmpty() bool { return len(s.events) == 0 }

// First returns the first event, or false if the stream is empty.
func (s EventStream) First() (DomainEvent, bool) {
	if len(s.events) == 0 {
		return DomainEvent{}, false
	}
	return s.events[0], true
}

// Last returns the last event, or false if the stream is empty.
func (s EventStream) Last() (DomainEvent, bool) {
	if len(s.events) == 0 {
		return DomainEvent{}, false
	}
	return s.events[len(s.events)-1], true
}

// FilterByType returns a new stream containing only events of eventType.
func (s EventStream) FilterByType(eventType string) EventStream {
	filtered := make([]DomainEvent, 0, len(s.events))
	for _, e := range s.events {
		if e.EventType == eventType {
			filtered = append(filtered, e)
		}
	}
	return EventStream{aggregateID: s.aggregateID, events: filtered}
}

// Limit returns a new stream truncated to at most n events.
func (s EventStream) Limit(n int) EventStream {
	if n < 0 || n >= len(s.events) {
		return s
	}
	return EventStream{aggregateID: s.aggregateID, events: s.events[:n]}
}

// Skip returns a new stream with the first n events removed.
func (s EventStream) Skip(n int) EventStream {
	if n <= 0 {
		return s
	}
	if n >= len(s.events) {
		return EventStream{aggregateID: s.aggregateID, events: nil}
	}
	return EventStream{aggregateID: s.aggregateID, events: s.events[n:]}
}

// Reverse returns a new stream with events in reverse order.
func (s EventStream) Reverse() EventStream {
	reversed := make([]DomainEvent, len(s.events))
	for i, e := range s.events {
		reversed[len(s.events)-1-i] = e
	}
	return EventStream{aggregateID: s.aggregateID, events: reversed}
}

// At returns the event at index i.
func (s EventStream) At(i int) DomainEvent { return s.events[i] }
