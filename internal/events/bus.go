package events

import (
	"time"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers. Safe on a nil bus.
// Usage: bus.Publish(RelayStateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case RelayStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ObserversChangedEvent:
		event.Publish(b.dispatcher, e)
	case ClientChangedEvent:
		event.Publish(b.dispatcher, e)
	case DepthChangedEvent:
		event.Publish(b.dispatcher, e)
	case WarningTextChangedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e RelayStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(RelayStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ObserversChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ClientChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DepthChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WarningTextChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unknown handler types get a no-op unsubscribe
		return func() {}
	}
}

// Now formats the current time the way every event timestamp is written.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
