// Package bucket implements the hour bucket: a fixed-size array of samples
// covering one hour of the timeline, its binary file record and the file
// path layout.
//
// The slot count is Timebase.SamplesPerHour. It equals rate*3600 except at
// 60 Hz, where the truncated 16 ms period gives 225000 slots. Decode
// rejects records of any other size, including 216000-slot 60 Hz files.
package bucket

import (
	"time"

	"github.com/xtxerr/seisd/internal/storage/types"
)

// Bucket holds one hour of samples. It is not safe for concurrent use;
// the store serializes access under its own lock.
type Bucket struct {
	hourID     int32
	samples    []int32
	count      int32
	dirty      bool
	lastAccess time.Time
}

// New returns a blank bucket with every slot set to the sentinel.
func New(hourID int32, slots int) *Bucket {
	b := &Bucket{
		hourID:  hourID,
		samples: make([]int32, slots),
	}
	for i := range b.samples {
		b.samples[i] = types.Sentinel
	}
	return b
}

// HourID returns the hour this bucket covers.
func (b *Bucket) HourID() int32 { return b.hourID }

// Slots returns the number of slots.
func (b *Bucket) Slots() int { return len(b.samples) }

// Count returns the number of slots that have ever held data.
func (b *Bucket) Count() int32 { return b.count }

// Dirty reports whether the bucket has unsaved writes.
func (b *Bucket) Dirty() bool { return b.dirty }

// MarkClean clears the dirty flag after a successful save.
func (b *Bucket) MarkClean() { b.dirty = false }

// LastAccess returns the time of the last Get or Put.
func (b *Bucket) LastAccess() time.Time { return b.lastAccess }

// Touch records an access at now.
func (b *Bucket) Touch(now time.Time) { b.lastAccess = now }

// Get returns the value at slot.
func (b *Bucket) Get(slot int) int32 {
	return b.samples[slot]
}

// Put stores value at slot and marks the bucket dirty. The count grows only
// when a sentinel slot receives data; clearing a written slot back to the
// sentinel does not shrink it.
func (b *Bucket) Put(slot int, value int32) {
	if b.samples[slot] == types.Sentinel && value != types.Sentinel {
		b.count++
	}
	b.samples[slot] = value
	b.dirty = true
}

// Each calls fn for every non-sentinel slot in [from, to] in order.
// Iteration stops when fn returns false.
func (b *Bucket) Each(from, to int, fn func(slot int, value int32) bool) {
	if from < 0 {
		from = 0
	}
	if to >= len(b.samples) {
		to = len(b.samples) - 1
	}
	for i := from; i <= to; i++ {
		if v := b.samples[i]; v != types.Sentinel {
			if !fn(i, v) {
				return
			}
		}
	}
}
