package handler

import (
	"sync"

	"github.com/xtxerr/seisd/internal/errors"
)

// Request is an inclusive range of log ids a client asked for.
type Request struct {
	First int64
	Last  int64
}

// RequestQueue is a bounded FIFO of pending historical requests. One slot
// stays free to tell a full queue from an empty one, so a queue of size n
// holds n-1 requests.
type RequestQueue struct {
	mu    sync.Mutex
	items []Request
	head  int
	tail  int

	dropped int64
}

// NewRequestQueue creates a queue with size slots.
func NewRequestQueue(size int) *RequestQueue {
	if size < 2 {
		size = 2
	}
	return &RequestQueue{items: make([]Request, size)}
}

// Push appends r, or returns ErrQueueFull.
func (q *RequestQueue) Push(r Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := (q.head + 1) % len(q.items)
	if next == q.tail {
		q.dropped++
		return errors.ErrQueueFull
	}
	q.items[q.head] = r
	q.head = next
	return nil
}

// Peek returns the oldest request.
func (q *RequestQueue) Peek() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == q.tail {
		return Request{}, false
	}
	return q.items[q.tail], true
}

// Advance moves the oldest request's first id forward to first. A request
// advanced past its last id is removed.
func (q *RequestQueue) Advance(first int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == q.tail {
		return
	}
	r := &q.items[q.tail]
	r.First = first
	if r.First > r.Last {
		q.tail = (q.tail + 1) % len(q.items)
	}
}

// Len returns the number of pending requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return (q.head - q.tail + len(q.items)) % len(q.items)
}

// Cap returns how many requests the queue can hold.
func (q *RequestQueue) Cap() int {
	return len(q.items) - 1
}

// Dropped returns how many pushes were rejected.
func (q *RequestQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
