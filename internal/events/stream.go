package events

import (
	"sync"
)

// Stream is the ordered event channel of one turn. Emit never blocks: events
// queue until the reader takes them, so a slow or vanished client cannot stall
// the turn. Events are delivered exactly in Emit order.
type Stream struct {
	mu        sync.Mutex
	queue     []Event
	closed    bool
	notify    chan struct{}
	abandoned chan struct{}
	abandon   sync.Once
	out       chan Event
}

// NewStream creates a stream and starts its delivery goroutine.
func NewStream() *Stream {
	s := &Stream{
		notify:    make(chan struct{}, 1),
		abandoned: make(chan struct{}),
		out:       make(chan Event),
	}
	go s.pump()
	return s
}

// Emit queues e for delivery. Events emitted after Close are discarded.
func (s *Stream) Emit(e Event) {
	select {
	case <-s.abandoned:
		return
	default:
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.wake()
}

// Close marks the end of the turn. Queued events are still delivered, then
// the Events channel is closed. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Abandon tells the stream nobody is reading anymore. Remaining and future
// events are discarded.
func (s *Stream) Abandon() {
	s.abandon.Do(func() { close(s.abandoned) })
}

// Events returns the delivery channel. It is closed after Close once the
// queue drains, or after Abandon.
func (s *Stream) Events() <-chan Event {
	return s.out
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.notify:
			case <-s.abandoned:
				return
			}
			continue
		}
		e := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.abandoned:
			return
		}
	}
}
