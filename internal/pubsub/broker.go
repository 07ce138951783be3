package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

// Broker fans events out to subscribers without blocking publishers. A
// subscriber whose buffer is full misses the event; the gap is visible
// through Event.Seq.
type Broker[T any] struct {
	name      string
	mu        sync.RWMutex
	subs      map[chan Event[T]]struct{}
	done      chan struct{}
	bufferCap int
	seq       atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroker constructs a broker with the default buffer size.
func NewBroker[T any](name string) *Broker[T] {
	return NewBrokerWithOptions[T](name, defaultBufferSize)
}

// NewBrokerWithOptions builds a broker using the provided channel buffer size.
func NewBrokerWithOptions[T any](name string, buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &Broker[T]{
		name:      name,
		subs:      make(map[chan Event[T]]struct{}),
		done:      make(chan struct{}),
		bufferCap: buffer,
	}
}

// Shutdown closes the broker and all subscriber channels.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}

	for ch := range b.subs {
		close(ch)
	}
	clear(b.subs)
}

// Subscribe registers for future events. The returned channel closes when the
// provided context is done or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	ch := make(chan Event[T], b.bufferCap)
	b.subs[ch] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[ch]; !ok {
			return
		}
		delete(b.subs, ch)
		close(ch)
	}()

	return ch
}

// Publish sends payload to all subscribers using best-effort delivery.
func (b *Broker[T]) Publish(t EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	evt := Event[T]{Type: t, Seq: b.seq.Add(1), Payload: payload}
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if b.dropped.Add(1) == 1 {
				slog.Warn("pubsub: slow subscriber, dropping events", "broker", b.name)
			}
		}
	}
}

func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Broker[T]) Dropped() uint64 { return b.dropped.Load() }
