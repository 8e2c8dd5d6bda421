package types

import (
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/errors"
)

const msPerHour = 3_600_000

// SampleRate is a sampling frequency in Hz.
type SampleRate int

// ParseSampleRate validates a configured rate.
func ParseSampleRate(hz int) (SampleRate, error) {
	r := SampleRate(hz)
	if r.Index() < 0 {
		return 0, fmt.Errorf("%d Hz (supported: %v): %w", hz, config.SampleRates, errors.ErrInvalidSampleRate)
	}
	return r, nil
}

// Index returns the rate's position in the supported list, or -1.
// The link handshake transmits this index.
func (r SampleRate) Index() int {
	for i, v := range config.SampleRates {
		if int(r) == v {
			return i
		}
	}
	return -1
}

// PeriodMs is the sample period in whole milliseconds (16 for 60 Hz).
func (r SampleRate) PeriodMs() int64 {
	return 1000 / int64(r)
}

// SamplesPerHour is the number of slots in an hour bucket: one per log id
// the hour spans. This is rate*3600 except at 60 Hz, where the truncated
// 16 ms period yields 225000 log ids per hour.
func (r SampleRate) SamplesPerHour() int {
	return int(msPerHour / r.PeriodMs())
}

// String returns e.g. "40 Hz".
func (r SampleRate) String() string {
	return fmt.Sprintf("%d Hz", int(r))
}

// Timebase converts between wall-clock time, log ids and hour ids at a
// fixed sample rate. All divisions truncate.
type Timebase struct {
	rate     SampleRate
	periodMs int64
	perHour  int64
}

// NewTimebase returns the timebase for rate.
func NewTimebase(rate SampleRate) Timebase {
	return Timebase{
		rate:     rate,
		periodMs: rate.PeriodMs(),
		perHour:  int64(rate.SamplesPerHour()),
	}
}

// Rate returns the sample rate.
func (tb Timebase) Rate() SampleRate { return tb.rate }

// PeriodMs returns the sample period in milliseconds.
func (tb Timebase) PeriodMs() int64 { return tb.periodMs }

// SamplesPerHour returns the bucket slot count.
func (tb Timebase) SamplesPerHour() int { return int(tb.perHour) }

// HourID returns the hour bucket a log id belongs to.
func (tb Timebase) HourID(logID int64) int32 {
	return int32(logID * tb.periodMs / msPerHour)
}

// FirstLogID returns the first log id of an hour.
func (tb Timebase) FirstLogID(hourID int32) int64 {
	return int64(hourID) * msPerHour / tb.periodMs
}

// LastLogID returns the last log id of an hour.
func (tb Timebase) LastLogID(hourID int32) int64 {
	return tb.FirstLogID(hourID+1) - 1
}

// MaxLogID is the largest log id whose hour id fits in an int32.
func (tb Timebase) MaxLogID() int64 {
	return tb.FirstLogID(math.MaxInt32) - 1
}

// ValidLogID reports whether logID lies on the stored timeline. Negative
// ids and ids past MaxLogID have no bucket.
func (tb Timebase) ValidLogID(logID int64) bool {
	return logID >= 0 && logID <= tb.MaxLogID()
}

// SlotIndex returns the slot of logID inside its bucket. logID must be
// valid.
func (tb Timebase) SlotIndex(logID int64) int {
	return int(logID % tb.perHour)
}

// LogIDAt returns the log id of wall-clock instant t.
func (tb Timebase) LogIDAt(t time.Time) int64 {
	return t.UnixMicro() / (tb.periodMs * 1000)
}

// HourAt returns the hour id of wall-clock instant t.
func (tb Timebase) HourAt(t time.Time) int32 {
	return int32(t.UnixMilli() / msPerHour)
}

// TimeOf returns the wall-clock instant of a log id.
func (tb Timebase) TimeOf(logID int64) time.Time {
	return time.UnixMilli(logID * tb.periodMs)
}

// HourStart returns the wall-clock start of an hour bucket.
func (tb Timebase) HourStart(hourID int32) time.Time {
	return time.UnixMilli(int64(hourID) * msPerHour)
}

// Span returns the duration covered by the inclusive range [first, last].
// Spans too long for a time.Duration saturate.
func (tb Timebase) Span(first, last int64) time.Duration {
	if last <= first {
		return 0
	}
	n := uint64(last) - uint64(first)
	if n > uint64(math.MaxInt64/time.Millisecond)/uint64(tb.periodMs) {
		return math.MaxInt64
	}
	return time.Duration(int64(n)*tb.periodMs) * time.Millisecond
}

// SamplesIn returns how many sample periods fit in d.
func (tb Timebase) SamplesIn(d time.Duration) int64 {
	return d.Milliseconds() / tb.periodMs
}
