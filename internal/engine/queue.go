package engine

import (
	"sync"

	"github.com/roach88/scoreboard/internal/entry"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeSnapshot carries a full collection from the store.
	EventTypeSnapshot EventType = iota + 1
	// EventTypeError carries the error that ended the store subscription.
	EventTypeError
	// EventTypeWelcome asks the loop to hand the cached projection to one
	// late observer.
	EventTypeWelcome
)

func (t EventType) String() string {
	switch t {
	case EventTypeSnapshot:
		return "snapshot"
	case EventTypeError:
		return "error"
	case EventTypeWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the Run loop.
type Event struct {
	Type EventType

	// Generation ties snapshot and error events to the store subscription
	// that produced them. Events from a torn-down subscription are dropped.
	Generation uint64

	Records  []entry.Record
	Err      error
	Observer uint64
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so adapter callbacks never block on a slow loop.
// The signal channel lets the Run loop wait with a context.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Drop the reference so the records can be collected.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drained reports whether the queue is closed and empty.
func (q *eventQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close signals that no more events will be enqueued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
