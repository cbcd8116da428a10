package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Result is the outcome of offering an event to a subscriber.
type Result int

const (
	// Delivered means the event was queued for the subscriber.
	Delivered Result = iota
	// Closed means the subscriber had already gone away.
	Closed
	// Overflow means the subscriber's queue was full.
	Overflow
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Closed:
		return "closed"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Subscriber is one connected observer. The Hub is the only writer of its
// queue; the owner drains Events until it is closed.
type Subscriber struct {
	id     string
	queue  chan Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newSubscriber(queueSize int) *Subscriber {
	return &Subscriber{
		id:    uuid.NewString(),
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
}

// ID returns the subscriber's identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// Events returns the subscriber's queue. It is closed when the subscriber
// is dropped.
func (s *Subscriber) Events() <-chan Event {
	return s.queue
}

// Done is closed when the subscriber is dropped.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// offer enqueues ev without blocking.
func (s *Subscriber) offer(ev Event) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Closed
	}
	select {
	case s.queue <- ev:
		return Delivered
	default:
		return Overflow
	}
}

// close reports whether this call closed the subscriber.
func (s *Subscriber) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.queue)
	close(s.done)
	return true
}
