package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T to ch for select-loop
// consumers such as the SSE endpoint. Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	if bus == nil {
		return func() {}
	}
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeAll forwards every pool event type to ch.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[WorkerStartedEvent](bus, ch),
		SubscribeToChannel[WorkerRestartedEvent](bus, ch),
		SubscribeToChannel[WorkerDiscardedEvent](bus, ch),
		SubscribeToChannel[ConversionCompletedEvent](bus, ch),
		SubscribeToChannel[PoolShutdownEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
