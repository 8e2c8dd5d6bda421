package clock

import (
	"sync"
	"time"
)

// Fake is a Clock that only moves when Advance or Set is called. Tickers
// fire during Advance for every interval boundary crossed (coalesced into
// the 1-slot channel). Sleep blocks until the clock passes its deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	sleeps  []*fakeSleep
	changed *sync.Cond
}

type fakeTicker struct {
	next     time.Time
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

type fakeSleep struct {
	deadline time.Time
	done     chan struct{}
}

// NewFake returns a fake clock set to initial.
func NewFake(initial time.Time) *Fake {
	f := &Fake{now: initial}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker registers a ticker that fires as the clock is advanced.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{next: f.now.Add(d), interval: d, ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, ft)
	f.changed.Broadcast()
	return &Ticker{
		C: ft.ch,
		stop: func() {
			f.mu.Lock()
			ft.stopped = true
			f.mu.Unlock()
		},
	}
}

// Sleep blocks until the clock has been advanced by at least d.
func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	s := &fakeSleep{deadline: f.now.Add(d), done: make(chan struct{})}
	f.sleeps = append(f.sleeps, s)
	f.changed.Broadcast()
	f.mu.Unlock()
	<-s.done
}

// Advance moves the clock forward by d and fires everything that became due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fire()
}

// Set jumps the clock to t. Moving backwards fires nothing.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
	f.fire()
}

// WaitForTickers blocks until at least n live tickers are registered.
// Tests use it to avoid advancing before a loop has created its ticker.
func (f *Fake) WaitForTickers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.liveTickers() < n {
		f.changed.Wait()
	}
}

// WaitForSleepers blocks until at least n goroutines are inside Sleep.
func (f *Fake) WaitForSleepers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.sleeps) < n {
		f.changed.Wait()
	}
}

func (f *Fake) liveTickers() int {
	n := 0
	for _, t := range f.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fire must be called with mu held.
func (f *Fake) fire() {
	live := f.tickers[:0]
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		if !f.now.Before(t.next) {
			select {
			case t.ch <- f.now:
			default:
			}
			for !f.now.Before(t.next) {
				t.next = t.next.Add(t.interval)
			}
		}
		live = append(live, t)
	}
	f.tickers = live

	pending := f.sleeps[:0]
	for _, s := range f.sleeps {
		if !f.now.Before(s.deadline) {
			close(s.done)
			continue
		}
		pending = append(pending, s)
	}
	f.sleeps = pending
}
