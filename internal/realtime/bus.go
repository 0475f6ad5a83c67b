package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Bus is an ordered per-event listener registry. Dispatch is synchronous;
// a panicking listener is logged and the remaining listeners still run.
type Bus struct {
	log zerolog.Logger

	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	nextID    uint64
}

// NewBus creates an empty Bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		log:       logger,
		listeners: make(map[string][]listenerEntry),
	}
}

// AddListener registers fn for event. Listeners of one event run in
// registration order.
func (b *Bus) AddListener(event string, fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], listenerEntry{id: id, fn: fn})
	return Subscription{event: event, id: id}
}

// RemoveListener removes exactly the registration sub refers to.
// Unknown or already removed subscriptions are ignored.
func (b *Bus) RemoveListener(sub Subscription) {
	if sub.id == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.listeners[sub.event]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}
		kept := make([]listenerEntry, 0, len(entries)-1)
		kept = append(kept, entries[:i]...)
		kept = append(kept, entries[i+1:]...)
		if len(kept) == 0 {
			delete(b.listeners, sub.event)
		} else {
			b.listeners[sub.event] = kept
		}
		return
	}
}

// ListenerCount returns the number of listeners registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// Dispatch delivers ev to the listeners of ev.Name().
func (b *Bus) Dispatch(ev Event) {
	b.mu.RLock()
	entries := b.listeners[ev.Name()]
	b.mu.RUnlock()

	for _, e := range entries {
		b.invoke(e, ev)
	}
}

func (b *Bus) invoke(e listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event", ev.Name()).
				Msg("realtime listener panicked")
		}
	}()
	e.fn(ev)
}
