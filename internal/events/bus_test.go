package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan WorkerRestartedEvent, 1)

	unsub := bus.Subscribe(func(e WorkerRestartedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(WorkerRestartedEvent{WorkerID: 2, OldPID: 10, NewPID: 11, Reason: "fatal_signal"})

	select {
	case got := <-received:
		if got.WorkerID != 2 || got.NewPID != 11 {
			t.Errorf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan WorkerDiscardedEvent, 1)

	unsub := bus.Subscribe(func(e WorkerDiscardedEvent) {
		received <- e
	})

	bus.Publish(WorkerDiscardedEvent{WorkerID: 1})
	<-received

	unsub()

	bus.Publish(WorkerDiscardedEvent{WorkerID: 2})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	started := make(chan bool, 1)
	completed := make(chan bool, 1)

	defer bus.Subscribe(func(_ WorkerStartedEvent) { started <- true })()
	defer bus.Subscribe(func(_ ConversionCompletedEvent) { completed <- true })()

	bus.Publish(WorkerStartedEvent{WorkerID: 0, PID: 1})
	<-started

	select {
	case <-completed:
		t.Fatal("conversion subscriber should not receive WorkerStartedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	const goroutines, perGoroutine = 10, 100

	receivedCh := make(chan bool, goroutines*perGoroutine)
	defer bus.Subscribe(func(_ ConversionCompletedEvent) { receivedCh <- true })()

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				bus.Publish(ConversionCompletedEvent{Outcome: OutcomeSuccess})
			}
		}()
	}
	wg.Wait()

	for range goroutines * perGoroutine {
		<-receivedCh
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(PoolShutdownEvent{Total: 1})
	bus.Subscribe(func(_ PoolShutdownEvent) {})()
	if err := bus.Close(); err != nil {
		t.Errorf("Close on nil bus: %v", err)
	}
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	bus.Subscribe(func(_ string) {})()
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[WorkerDiscardedEvent](bus, ch)
	defer unsub()

	bus.Publish(WorkerDiscardedEvent{WorkerID: 3, Error: "script unavailable"})

	select {
	case received := <-ch:
		ev, ok := received.(WorkerDiscardedEvent)
		if !ok {
			t.Fatalf("Expected WorkerDiscardedEvent, got %T", received)
		}
		if ev.WorkerID != 3 {
			t.Errorf("WorkerID = %d, want 3", ev.WorkerID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[ConversionCompletedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(ConversionCompletedEvent{Outcome: OutcomeBusy})
		done <- true
	}()

	<-done
}

func TestSubscribeAll(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)
	unsub := SubscribeAll(bus, ch)
	defer unsub()

	bus.Publish(WorkerStartedEvent{WorkerID: 1})
	bus.Publish(PoolShutdownEvent{Total: 1})

	seen := make(map[uint32]bool)
	for range 2 {
		select {
		case ev := <-ch:
			seen[ev.(Event).Type()] = true
		case <-time.After(time.Second):
			t.Fatal("event not forwarded")
		}
	}
	if !seen[TypeWorkerStarted] || !seen[TypePoolShutdown] {
		t.Errorf("missing event types: %v", seen)
	}
}
