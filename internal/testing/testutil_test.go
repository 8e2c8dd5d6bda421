package testing

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/seisd/internal/storage/types"
)

func TestGoroutineTestCollects(t *testing.T) {
	gt := NewGoroutineTest(t)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		gt.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	gt.Wait()
	if n.Load() != 5 {
		t.Errorf("ran %d goroutines, want 5", n.Load())
	}
}

func TestWithTimeout(t *testing.T) {
	if err := WithTimeout(time.Second, func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout")
	}
	want := fmt.Errorf("boom")
	if err := WithTimeout(time.Second, func() error { return want }); err != want {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool
	time.AfterFunc(5*time.Millisecond, func() { ready.Store(true) })
	if err := Eventually(time.Second, time.Millisecond, ready.Load); err != nil {
		t.Error(err)
	}
	if err := Eventually(5*time.Millisecond, time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected failure")
	}
}

func TestMemStoreRange(t *testing.T) {
	rate, _ := types.ParseSampleRate(40)
	m := NewMemStore(types.NewTimebase(rate))
	for id := int64(10); id < 20; id++ {
		m.Put(id, int32(id))
	}

	got, next := m.Range(12, 18, 3)
	if len(got) != 3 || got[0].LogID != 12 || next != 15 {
		t.Errorf("Range = %v next %d", got, next)
	}
	got, next = m.Range(15, 18, 10)
	if len(got) != 4 || next != 19 {
		t.Errorf("Range = %v next %d", got, next)
	}
	if m.LastLogID() != 19 {
		t.Errorf("LastLogID = %d", m.LastLogID())
	}
	if n, ok := m.Lookup(0, true); !ok || n != 10 {
		t.Errorf("Lookup = %d, %v", n, ok)
	}
}
