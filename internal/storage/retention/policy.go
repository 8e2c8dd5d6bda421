// Package retention decides which hour buckets may leave the in-memory
// working set.
//
// A bucket is evicted only when both hold:
//   - it has not been accessed for longer than the idle window
//   - it lies outside the hot window of the most recent hours
package retention

import (
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/seisd/internal/storage/config"
)

// Candidate describes one resident bucket.
type Candidate struct {
	HourID     int32
	LastAccess time.Time
	Dirty      bool
}

// Result holds the outcome of one evaluation.
type Result struct {
	Evict        []int32
	SkippedHot   int
	SkippedIdle  int
	SkippedDirty int
}

// Stats holds cumulative retention statistics.
type Stats struct {
	LastRunTime  time.Time
	Runs         int64
	Evicted      int64
	SkippedHot   int64
	SkippedIdle  int64
	SkippedDirty int64
}

// Policy applies the idle and hot-window rules.
type Policy struct {
	mu       sync.Mutex
	idle     time.Duration
	hotHours int32
	stats    Stats
}

// New creates a policy from the retention configuration.
func New(cfg config.RetentionConfig) *Policy {
	return &Policy{
		idle:     cfg.Idle,
		hotHours: int32(cfg.HotHours),
	}
}

// Hot reports whether hourID is inside the hot window ending at currentHour.
func (p *Policy) Hot(currentHour, hourID int32) bool {
	return currentHour-hourID < p.hotHours
}

// HotWindow returns the inclusive hour range that is never evicted.
func (p *Policy) HotWindow(currentHour int32) (first, last int32) {
	return currentHour - p.hotHours + 1, currentHour
}

// Evaluate selects the buckets to evict and updates the statistics.
// Dirty buckets are kept so unsaved data is never dropped; they become
// eligible once a save has succeeded.
func (p *Policy) Evaluate(now time.Time, currentHour int32, candidates []Candidate) Result {
	r := p.plan(now, currentHour, candidates)

	p.mu.Lock()
	p.stats.LastRunTime = now
	p.stats.Runs++
	p.stats.Evicted += int64(len(r.Evict))
	p.stats.SkippedHot += int64(r.SkippedHot)
	p.stats.SkippedIdle += int64(r.SkippedIdle)
	p.stats.SkippedDirty += int64(r.SkippedDirty)
	p.mu.Unlock()

	return r
}

// DryRun is Evaluate without touching the statistics.
func (p *Policy) DryRun(now time.Time, currentHour int32, candidates []Candidate) Result {
	return p.plan(now, currentHour, candidates)
}

func (p *Policy) plan(now time.Time, currentHour int32, candidates []Candidate) Result {
	var r Result
	for _, c := range candidates {
		if p.Hot(currentHour, c.HourID) {
			r.SkippedHot++
			continue
		}
		if now.Sub(c.LastAccess) <= p.idle {
			r.SkippedIdle++
			continue
		}
		if c.Dirty {
			r.SkippedDirty++
			continue
		}
		r.Evict = append(r.Evict, c.HourID)
	}
	sort.Slice(r.Evict, func(i, j int) bool { return r.Evict[i] < r.Evict[j] })
	return r
}

// Stats returns a copy of the cumulative statistics.
func (p *Policy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStats zeroes the cumulative statistics.
func (p *Policy) ResetStats() {
	p.mu.Lock()
	p.stats = Stats{}
	p.mu.Unlock()
}
