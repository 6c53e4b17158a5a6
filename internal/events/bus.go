package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// A nil *Bus is valid and drops every event.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(WorkerRestartedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case WorkerStartedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerRestartedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerDiscardedEvent:
		event.Publish(b.dispatcher, e)
	case ConversionCompletedEvent:
		event.Publish(b.dispatcher, e)
	case PoolShutdownEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e WorkerDiscardedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(WorkerStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerRestartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerDiscardedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConversionCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PoolShutdownEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Close stops event delivery.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.dispatcher.Close()
}
