package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/logwait/internal/logging"
	"github.com/Iron-Ham/logwait/internal/result"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeWaitResolved, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeWaitResolved, func(e Event) {
		received = e
	})

	at := time.Now()
	bus.Publish(NewWaitResolvedEvent(3, `"block sealed"`, result.Observed(at), 500*time.Millisecond))

	resolved, ok := received.(WaitResolvedEvent)
	if !ok {
		t.Fatalf("Handler received %T, want WaitResolvedEvent", received)
	}
	if resolved.RequestID != 3 || !resolved.Outcome.IsObserved() {
		t.Errorf("unexpected event: %+v", resolved)
	}
	if resolved.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "all") })
	bus.Subscribe(TypeDispatcherStarted, func(e Event) { order = append(order, "first") })
	bus.Subscribe(TypeDispatcherStarted, func(e Event) { order = append(order, "second") })
	bus.Subscribe(TypeDispatcherTerminated, func(e Event) { order = append(order, "other") })

	bus.Publish(NewDispatcherStartedEvent("stdout"))

	want := []string{"first", "second", "all"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	id := bus.Subscribe(TypeProcessExited, func(e Event) { calls++ })
	keep := bus.Subscribe(TypeProcessExited, func(e Event) { calls += 10 })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe should find the subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should report false")
	}

	bus.Publish(NewProcessExitedEvent("node", 10, 0, nil))
	if calls != 10 {
		t.Errorf("calls = %d, want only the remaining handler", calls)
	}

	bus.Unsubscribe(keep)
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewLoggerWriter(&buf, logging.LevelError))

	reached := false
	bus.Subscribe(TypePollRoundCompleted, func(e Event) { panic("boom") })
	bus.Subscribe(TypePollRoundCompleted, func(e Event) { reached = true })

	bus.Publish(NewPollRoundCompletedEvent(1, result.Expired(), true))

	if !reached {
		t.Error("handlers after a panicking one should still run")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic should be logged, got %q", buf.String())
	}
}

func TestBus_PublishFromHandler(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(TypeProcessStarted, func(e Event) {
		got = append(got, e.EventType())
		bus.Publish(NewDispatcherStartedEvent("pty"))
	})
	bus.Subscribe(TypeDispatcherStarted, func(e Event) {
		got = append(got, e.EventType())
	})

	bus.Publish(NewProcessStartedEvent("aionr", 42))

	if len(got) != 2 || got[1] != TypeDispatcherStarted {
		t.Errorf("got %v", got)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeWaitSubmitted, func(Event) {})
	bus.SubscribeAll(func(Event) {})
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear", bus.SubscriptionCount())
	}
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(NewDispatcherTerminatedEvent("terminated", 0))
}

func TestBus_ConcurrentAccess(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				bus.Publish(NewWaitSubmittedEvent(uint64(j), `"x"`, time.Second, time.Now()))
			}
		}()
		go func() {
			defer wg.Done()
			id := bus.Subscribe(TypeWaitSubmitted, func(Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if count != 200 {
		t.Errorf("wildcard handler saw %d events, want 200", count)
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewWaitSubmittedEvent(1, "p", time.Second, time.Now()), "wait.submitted"},
		{NewWaitResolvedEvent(1, "p", result.Unobserved(), 0), "wait.resolved"},
		{NewDispatcherStartedEvent("s"), "dispatcher.started"},
		{NewDispatcherTerminatedEvent("source closed", 2), "dispatcher.terminated"},
		{NewProcessStartedEvent("c", 1), "process.started"},
		{NewProcessExitedEvent("c", 1, -1, nil), "process.exited"},
		{NewPollRoundCompletedEvent(1, result.Expired(), false), "poller.round"},
		{NewPollerStateChangedEvent("idle", "polling"), "poller.state"},
	}
	for _, tt := range tests {
		if got := tt.event.EventType(); got != tt.want {
			t.Errorf("EventType() = %q, want %q", got, tt.want)
		}
	}
}
