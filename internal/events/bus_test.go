package events

import (
	"fmt"
	"testing"
	"time"
)

func chunk(turn, content string) ChunkEvent {
	return ChunkEvent{Turn: turn, NodeID: "implementation", Agent: "implementation", Role: "agent", Content: content, Timestamp: time.Now()}
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTurn, 10)
	bus.Publish(TopicTurn, chunk("turn-1", "hello"))

	select {
	case received := <-ch:
		if received.TurnID() != "turn-1" {
			t.Errorf("expected turn ID 'turn-1', got '%s'", received.TurnID())
		}
		if received.EventType() != EventTypeChunk {
			t.Errorf("expected event type '%s', got '%s'", EventTypeChunk, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTurn, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTurn, chunk("turn", fmt.Sprint(i)))
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
	if received := <-ch; received.(ChunkEvent).Content != "0" {
		t.Errorf("expected the first event to be kept, got %+v", received)
	}
}

// TestTopicIsolation verifies topic subscribers only see their topic while
// SubscribeAll sees everything.
func TestTopicIsolation(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	turnCh := bus.Subscribe(TopicTurn, 10)
	otherCh := bus.Subscribe("other", 10)
	allCh := bus.SubscribeAll(10)

	bus.Publish(TopicTurn, chunk("t1", "a"))
	bus.Publish("other", ErrorEvent{Turn: "t2", Message: "boom"})

	if got := len(turnCh); got != 1 {
		t.Errorf("turn subscriber got %d events, want 1", got)
	}
	if got := len(otherCh); got != 1 {
		t.Errorf("other subscriber got %d events, want 1", got)
	}
	if got := len(allCh); got != 2 {
		t.Errorf("all subscriber got %d events, want 2", got)
	}
	if e := <-otherCh; e.EventType() != EventTypeError {
		t.Errorf("other subscriber got %s", e.EventType())
	}
}

// TestUnsubscribe verifies the channel is closed and no longer receives.
func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTurn, 10)
	keep := bus.Subscribe(TopicTurn, 10)
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch) // second call is a no-op

	bus.Publish(TopicTurn, chunk("t", "x"))

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel received an event")
	}
	if len(keep) != 1 {
		t.Error("remaining subscriber missed the event")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTurn, 10)

	bus.Close()
	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}

	// Publishing and subscribing after close must not panic
	bus.Publish(TopicTurn, chunk("t", "late"))
	if _, ok := <-bus.SubscribeAll(1); ok {
		t.Error("subscription after close should be closed")
	}
}
