package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/interfaces"
)

// TestSubscribeAndPublish verifies a subscribed handler runs before Publish returns
func TestSubscribeAndPublish(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	called := 0
	handler := func(ctx context.Context, event interfaces.Event) error {
		called++
		return nil
	}

	if err := svc.Subscribe(interfaces.EventJobCreated, handler); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	err := svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCreated,
		Payload: map[string]interface{}{"job_id": "job_1"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Publish awaits handlers, so the count is visible immediately
	if called != 1 {
		t.Errorf("Expected handler called once, got %d", called)
	}
}

// TestPublishInvokesHandlersInOrder verifies handlers run in subscription order
func TestPublishInvokesHandlersInOrder(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		err := svc.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, event interfaces.Event) error {
			order = append(order, name)
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to subscribe %s: %v", name, err)
		}
	}

	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStarted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("Expected 3 handler calls, got %d", len(order))
	}
	for i, want := range []string{"first", "second", "third"} {
		if order[i] != want {
			t.Errorf("Handler %d: expected %s, got %s", i, want, order[i])
		}
	}
}

// TestWildcardAndSpecificHandlers verifies both handler sets fire exactly once,
// type-specific handlers first
func TestWildcardAndSpecificHandlers(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	var order []string
	err := svc.Subscribe(interfaces.EventTypeWildcard, func(ctx context.Context, event interfaces.Event) error {
		order = append(order, "wildcard")
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to subscribe wildcard: %v", err)
	}
	err = svc.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		order = append(order, "specific")
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to subscribe specific: %v", err)
	}

	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCompleted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(order) != 2 {
		t.Fatalf("Expected 2 handler calls, got %d: %v", len(order), order)
	}
	if order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("Expected specific handlers before wildcard, got %v", order)
	}
}

// TestHandlerErrorDoesNotStopOthers verifies a failing handler is isolated
func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	secondCalled := false
	err := svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		return fmt.Errorf("handler failure")
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	err = svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		secondCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed}); err != nil {
		t.Errorf("Publish should not surface handler errors, got: %v", err)
	}
	if !secondCalled {
		t.Error("Expected second handler to run after first failed")
	}
}

// TestHandlerPanicIsolated verifies a panicking handler does not break the bus
func TestHandlerPanicIsolated(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	laterCalled := false
	err := svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		panic("handler panic")
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	err = svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		laterCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated}); err != nil {
		t.Errorf("Publish should survive a handler panic, got: %v", err)
	}
	if !laterCalled {
		t.Error("Expected handler after the panicking one to run")
	}
}

// TestUnsubscribeRemovesAllHandlers verifies Unsubscribe drops every handler for a type
func TestUnsubscribeRemovesAllHandlers(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	calls := 0
	for i := 0; i < 3; i++ {
		err := svc.Subscribe(interfaces.EventContributionRecorded, func(ctx context.Context, event interfaces.Event) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
	}

	svc.Unsubscribe(interfaces.EventContributionRecorded)

	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventContributionRecorded}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no handler calls after unsubscribe, got %d", calls)
	}
}

// TestEventLogWrapAround verifies the bounded log keeps the newest events in order
func TestEventLogWrapAround(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(3, logger)
	defer svc.Close()

	for i := 0; i < 5; i++ {
		err := svc.Publish(context.Background(), interfaces.Event{
			Type:    interfaces.EventContributionRecorded,
			Payload: map[string]interface{}{"seq": i},
		})
		if err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	log := svc.GetEventLog()
	if len(log) != 3 {
		t.Fatalf("Expected log of 3 events, got %d", len(log))
	}
	for i, want := range []int{2, 3, 4} {
		got, ok := log[i].Payload["seq"].(int)
		if !ok || got != want {
			t.Errorf("Log entry %d: expected seq %d, got %v", i, want, log[i].Payload["seq"])
		}
	}
}

// TestEventLogPartialFill verifies the log before wrap-around
func TestEventLogPartialFill(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(8, logger)
	defer svc.Close()

	for i := 0; i < 3; i++ {
		if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	log := svc.GetEventLog()
	if len(log) != 3 {
		t.Errorf("Expected 3 logged events, got %d", len(log))
	}
}

// TestPublishStampsIDAndTimestamp verifies missing identity fields are filled in
func TestPublishStampsIDAndTimestamp(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)
	defer svc.Close()

	var received interfaces.Event
	err := svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		received = event
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	before := time.Now()
	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if received.ID == "" {
		t.Error("Expected event ID to be stamped")
	}
	if received.Timestamp.Before(before.Add(-time.Second)) || received.Timestamp.IsZero() {
		t.Errorf("Expected recent timestamp, got %v", received.Timestamp)
	}
}

// TestPublishValidation verifies empty event types and closed buses are rejected
func TestPublishValidation(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(16, logger)

	if err := svc.Publish(context.Background(), interfaces.Event{}); err == nil {
		t.Error("Expected error publishing event with empty type")
	}

	if err := svc.Subscribe("", func(ctx context.Context, event interfaces.Event) error { return nil }); err == nil {
		t.Error("Expected error subscribing with empty event type")
	}
	if err := svc.Subscribe(interfaces.EventJobCreated, nil); err == nil {
		t.Error("Expected error subscribing nil handler")
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated}); err == nil {
		t.Error("Expected error publishing on closed service")
	}
	if err := svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error { return nil }); err == nil {
		t.Error("Expected error subscribing on closed service")
	}
}

// TestConcurrentPublish verifies the bus is safe under concurrent publishers
func TestConcurrentPublish(t *testing.T) {
	logger := arbor.NewLogger()
	svc := NewService(64, logger)
	defer svc.Close()

	var count atomic.Int64
	err := svc.Subscribe(interfaces.EventContributionRecorded, func(ctx context.Context, event interfaces.Event) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventContributionRecorded})
			}
		}()
	}
	wg.Wait()

	if got := count.Load(); got != 100 {
		t.Errorf("Expected 100 handler invocations, got %d", got)
	}
	if got := len(svc.GetEventLog()); got != 64 {
		t.Errorf("Expected full log of 64 events, got %d", got)
	}
}
