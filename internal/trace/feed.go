package trace

import (
	"context"
	"sync"

	"agentdesk/internal/pubsub"
)

// DefaultRetention bounds the feed when no explicit cap is configured.
const DefaultRetention = 500

// Feed is the append-only trace log. Entries keep arrival order and are never
// mutated; the only removal is eviction of the oldest entry once the
// retention cap is reached.
type Feed struct {
	mu        sync.RWMutex
	events    []Event
	ids       map[string]struct{}
	retention int
	evicted   int
	broker    *pubsub.Broker[Event]
}

// NewFeed creates a feed keeping at most retention events. A non-positive
// retention keeps everything.
func NewFeed(retention int) *Feed {
	return &Feed{
		ids:       make(map[string]struct{}),
		retention: retention,
		broker:    pubsub.NewBrokerWithOptions[Event]("trace-feed", 256),
	}
}

// Append adds e at the tail. An event whose id is already retained is
// ignored and Append reports false.
func (f *Feed) Append(e Event) bool {
	f.mu.Lock()
	if _, dup := f.ids[e.ID]; dup {
		f.mu.Unlock()
		return false
	}

	var evicted []Event
	if f.retention > 0 {
		for len(f.events) >= f.retention {
			oldest := f.events[0]
			f.events[0] = Event{}
			f.events = f.events[1:]
			delete(f.ids, oldest.ID)
			f.evicted++
			evicted = append(evicted, oldest)
		}
	}
	f.events = append(f.events, e)
	f.ids[e.ID] = struct{}{}
	f.mu.Unlock()

	for _, old := range evicted {
		f.broker.Publish(pubsub.EvictedEvent, old)
	}
	f.broker.Publish(pubsub.AppendedEvent, e)
	return true
}

// Events returns a snapshot in arrival order, oldest first.
func (f *Feed) Events() []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Tail returns up to n of the newest events, oldest first.
func (f *Feed) Tail(n int) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if n <= 0 || n > len(f.events) {
		n = len(f.events)
	}
	out := make([]Event, n)
	copy(out, f.events[len(f.events)-n:])
	return out
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events)
}

// Evicted reports how many events were dropped by the retention cap.
func (f *Feed) Evicted() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.evicted
}

// Subscribe streams appended and evicted events.
func (f *Feed) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return f.broker.Subscribe(ctx)
}

func (f *Feed) Close() {
	f.broker.Shutdown()
}
