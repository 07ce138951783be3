package pubsub

import "context"

// EventType identifies what happened to the payload.
type EventType string

const (
	// CreatedEvent signals that a new resource is available.
	CreatedEvent EventType = "created"
	// UpdatedEvent signals that an existing resource mutated.
	UpdatedEvent EventType = "updated"
	// AppendedEvent signals a new entry at the tail of an append-only log.
	AppendedEvent EventType = "appended"
	// EvictedEvent signals that the oldest entry of a capped log was dropped.
	EvictedEvent EventType = "evicted"
)

// Event wraps a payload emitted by the broker. Seq increases by one for every
// Publish so subscribers can detect skipped deliveries.
type Event[T any] struct {
	Type    EventType
	Seq     uint64
	Payload T
}

// Subscriber exposes the Subscribe API implemented by Broker.
type Subscriber[T any] interface {
	Subscribe(context.Context) <-chan Event[T]
}

// Publisher exposes the Publish API implemented by Broker.
type Publisher[T any] interface {
	Publish(EventType, T)
}
