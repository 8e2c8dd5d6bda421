package types

import (
	"strconv"

	"github.com/xtxerr/seisd/config"
)

// Sentinel marks a slot with no data. It doubles as the end-of-range marker
// on the client protocol.
const Sentinel = config.ErrValue

// Sample is a single sensor reading.
// LogID is the sample's index on the global timeline (wall-clock
// microseconds divided by the sample period).
type Sample struct {
	LogID int64
	Value int32
}

// Valid returns true if the sample carries data.
func (s Sample) Valid() bool {
	return s.Value != Sentinel
}

// String renders the sample as "log_id=value".
func (s Sample) String() string {
	return strconv.FormatInt(s.LogID, 10) + "=" + strconv.FormatInt(int64(s.Value), 10)
}

// SampleBatch is a reusable slice of samples for batch processing.
type SampleBatch struct {
	Samples []Sample
}

// NewSampleBatch creates a new batch with the given capacity.
func NewSampleBatch(capacity int) *SampleBatch {
	return &SampleBatch{
		Samples: make([]Sample, 0, capacity),
	}
}

// Add appends a sample to the batch.
func (b *SampleBatch) Add(s Sample) {
	b.Samples = append(b.Samples, s)
}

// Len returns the number of samples in the batch.
func (b *SampleBatch) Len() int {
	return len(b.Samples)
}

// Clear resets the batch for reuse.
func (b *SampleBatch) Clear() {
	b.Samples = b.Samples[:0]
}
