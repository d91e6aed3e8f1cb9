package events

import (
	"fmt"
	"testing"
	"time"
)

func TestStreamPreservesOrder(t *testing.T) {
	s := NewStream()

	// Emit everything before anyone reads: Emit must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Emit(chunk("turn", fmt.Sprint(i)))
		}
		s.Emit(CompleteEvent{Turn: "turn", Status: "complete"})
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked without a reader")
	}

	i := 0
	var last Event
	for e := range s.Events() {
		if c, ok := e.(ChunkEvent); ok {
			if c.Content != fmt.Sprint(i) {
				t.Fatalf("event %d out of order: %q", i, c.Content)
			}
			i++
		}
		last = e
	}
	if i != 1000 {
		t.Errorf("received %d chunks, want 1000", i)
	}
	if last == nil || !Terminal(last) {
		t.Errorf("last event = %v, want complete", last)
	}
}

func TestStreamEmitAfterClose(t *testing.T) {
	s := NewStream()
	s.Emit(chunk("turn", "kept"))
	s.Close()
	s.Emit(chunk("turn", "dropped"))
	s.Close()

	var got []string
	for e := range s.Events() {
		got = append(got, e.(ChunkEvent).Content)
	}
	if len(got) != 1 || got[0] != "kept" {
		t.Errorf("events = %v", got)
	}
}

func TestStreamAbandon(t *testing.T) {
	s := NewStream()
	s.Emit(chunk("turn", "a"))
	s.Emit(chunk("turn", "b"))
	s.Abandon()
	s.Abandon()
	s.Emit(chunk("turn", "c"))

	select {
	case <-drain(s.Events()):
	case <-time.After(time.Second):
		t.Fatal("abandoned stream did not close its channel")
	}
}

func drain(ch <-chan Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}
