// Package buffer implements the ingestion ring buffer that decouples the
// sensor link from store writes.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/seisd/internal/storage/types"
)

// RingBuffer is a thread-safe circular queue of samples.
// One slot is kept free so that head == tail always means empty; a buffer
// created with capacity n holds at most n-1 samples.
//
// When full, Push overwrites the oldest pending sample.
type RingBuffer struct {
	mu       sync.Mutex
	data     []types.Sample
	head     int // next write position
	tail     int // oldest pending position
	capacity int
	maxDepth int

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity < 2 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.Sample, capacity),
		capacity: capacity,
	}
}

// Push appends a sample. If the buffer is full the oldest pending sample is
// dropped to make room and overflowed is true.
func (rb *RingBuffer) Push(sample types.Sample) (overflowed bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.head] = sample
	rb.head = (rb.head + 1) % rb.capacity
	if rb.head == rb.tail {
		rb.tail = (rb.tail + 1) % rb.capacity
		rb.dropCount.Add(1)
		overflowed = true
	}
	rb.pushCount.Add(1)

	if d := rb.lenLocked(); d > rb.maxDepth {
		rb.maxDepth = d
	}
	return overflowed
}

// Drain appends every pending sample to dst in FIFO order, empties the
// buffer and returns the extended slice.
func (rb *RingBuffer) Drain(dst []types.Sample) []types.Sample {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.lenLocked()
	if n == 0 {
		return dst
	}

	if rb.tail < rb.head {
		dst = append(dst, rb.data[rb.tail:rb.head]...)
	} else {
		dst = append(dst, rb.data[rb.tail:]...)
		dst = append(dst, rb.data[:rb.head]...)
	}
	rb.tail = rb.head
	rb.popCount.Add(int64(n))
	return dst
}

// Peek returns the oldest pending sample without removing it.
func (rb *RingBuffer) Peek() (types.Sample, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.head == rb.tail {
		return types.Sample{}, false
	}
	return rb.data[rb.tail], true
}

// PeekNewest returns the most recently pushed pending sample.
func (rb *RingBuffer) PeekNewest() (types.Sample, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.head == rb.tail {
		return types.Sample{}, false
	}
	return rb.data[(rb.head-1+rb.capacity)%rb.capacity], true
}

func (rb *RingBuffer) lenLocked() int {
	return (rb.head - rb.tail + rb.capacity) % rb.capacity
}

// Len returns the number of pending samples.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lenLocked()
}

// Cap returns the capacity the buffer was created with.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}

// IsEmpty returns true if nothing is pending.
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Len() == 0
}

// IsFull returns true if the next Push would overwrite.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return (rb.head+1)%rb.capacity == rb.tail
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer) UsageRatio() float64 {
	return float64(rb.Len()) / float64(rb.capacity-1)
}

// MaxDepth returns the highest number of pending samples observed.
func (rb *RingBuffer) MaxDepth() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.maxDepth
}

// Clear discards every pending sample.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.tail = 0
}

// ResetStats zeroes the counters and the high-water mark.
func (rb *RingBuffer) ResetStats() {
	rb.mu.Lock()
	rb.maxDepth = rb.lenLocked()
	rb.mu.Unlock()

	rb.pushCount.Store(0)
	rb.popCount.Store(0)
	rb.dropCount.Store(0)
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.Lock()
	count := rb.lenLocked()
	maxDepth := rb.maxDepth
	rb.mu.Unlock()

	return BufferStats{
		Capacity:   rb.capacity,
		Count:      count,
		MaxDepth:   maxDepth,
		UsageRatio: float64(count) / float64(rb.capacity-1),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	MaxDepth   int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
