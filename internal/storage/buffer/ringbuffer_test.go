package buffer

import (
	"sync"
	"testing"

	"github.com/xtxerr/seisd/internal/storage/types"
)

func sample(id int64) types.Sample {
	return types.Sample{LogID: id, Value: int32(id * 10)}
}

func TestRingBuffer_Basic(t *testing.T) {
	rb := New(10)

	if rb.Cap() != 10 {
		t.Errorf("expected capacity=10, got %d", rb.Cap())
	}
	if !rb.IsEmpty() {
		t.Error("new buffer should be empty")
	}
	if rb.IsFull() {
		t.Error("new buffer should not be full")
	}
	if _, ok := rb.Peek(); ok {
		t.Error("Peek on empty buffer should fail")
	}
}

func TestRingBuffer_DrainFIFO(t *testing.T) {
	rb := New(8)

	for i := int64(1); i <= 5; i++ {
		if rb.Push(sample(i)) {
			t.Fatalf("push %d overflowed", i)
		}
	}

	if s, _ := rb.Peek(); s.LogID != 1 {
		t.Errorf("Peek = %d, want 1", s.LogID)
	}
	if s, _ := rb.PeekNewest(); s.LogID != 5 {
		t.Errorf("PeekNewest = %d, want 5", s.LogID)
	}

	got := rb.Drain(nil)
	if len(got) != 5 {
		t.Fatalf("Drain returned %d, want 5", len(got))
	}
	for i, s := range got {
		if s.LogID != int64(i+1) {
			t.Errorf("got[%d] = %d", i, s.LogID)
		}
	}
	if !rb.IsEmpty() {
		t.Error("buffer should be empty after drain")
	}
}

func TestRingBuffer_DrainWrapped(t *testing.T) {
	rb := New(4)

	rb.Push(sample(1))
	rb.Push(sample(2))
	rb.Drain(nil)

	// head wraps past the end of the backing array.
	rb.Push(sample(3))
	rb.Push(sample(4))
	rb.Push(sample(5))

	got := rb.Drain(make([]types.Sample, 0, 4))
	if len(got) != 3 || got[0].LogID != 3 || got[2].LogID != 5 {
		t.Errorf("wrapped drain = %v", got)
	}
}

func TestRingBuffer_OverflowDropsOldest(t *testing.T) {
	rb := New(4) // holds 3

	for i := int64(1); i <= 3; i++ {
		rb.Push(sample(i))
	}
	if !rb.IsFull() {
		t.Fatal("buffer should be full with capacity-1 entries")
	}

	if !rb.Push(sample(4)) {
		t.Error("push into full buffer should report overflow")
	}
	if !rb.Push(sample(5)) {
		t.Error("second push into full buffer should report overflow")
	}

	got := rb.Drain(nil)
	if len(got) != 3 || got[0].LogID != 3 || got[2].LogID != 5 {
		t.Errorf("after overflow drain = %v, want [3 4 5]", got)
	}

	stats := rb.Stats()
	if stats.DropCount != 2 {
		t.Errorf("DropCount = %d, want 2", stats.DropCount)
	}
	if stats.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", stats.MaxDepth)
	}
}

func TestRingBuffer_ResetStats(t *testing.T) {
	rb := New(10)
	for i := int64(0); i < 6; i++ {
		rb.Push(sample(i))
	}
	rb.Drain(nil)
	rb.Push(sample(7))

	rb.ResetStats()
	s := rb.Stats()
	if s.PushCount != 0 || s.PopCount != 0 || s.DropCount != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
	if s.MaxDepth != 1 {
		t.Errorf("MaxDepth after reset = %d, want current depth 1", s.MaxDepth)
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := New(1 << 16)

	const producers = 4
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				rb.Push(sample(int64(p*perProducer + i)))
			}
		}(p)
	}

	var drained []types.Sample
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(drained) < producers*perProducer {
			drained = rb.Drain(drained)
		}
	}()

	wg.Wait()
	<-done

	if len(drained) != producers*perProducer {
		t.Errorf("drained %d, want %d", len(drained), producers*perProducer)
	}
	if rb.Stats().DropCount != 0 {
		t.Error("unexpected drops")
	}
}
