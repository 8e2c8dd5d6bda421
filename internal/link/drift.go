package link

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DriftStats keeps running statistics over steady-state window averages
// (microseconds). Quantiles come from a DDSketch.
type DriftStats struct {
	accuracy float64

	count int64
	sum   float64
	min   float64
	max   float64

	sketch *ddsketch.DDSketch
}

// DriftSummary is a snapshot of DriftStats.
type DriftSummary struct {
	Count int64
	Avg   float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P99   float64
}

// NewDriftStats creates empty statistics with the given sketch accuracy.
func NewDriftStats(accuracy float64) *DriftStats {
	d := &DriftStats{accuracy: accuracy}
	d.Reset()
	return d
}

// Add records one window average.
func (d *DriftStats) Add(avgUs float64) {
	d.count++
	d.sum += avgUs
	if avgUs < d.min {
		d.min = avgUs
	}
	if avgUs > d.max {
		d.max = avgUs
	}
	if d.sketch != nil {
		d.sketch.Add(avgUs)
	}
}

// Summary returns the current statistics. Zero values mean no data.
func (d *DriftStats) Summary() DriftSummary {
	s := DriftSummary{Count: d.count}
	if d.count == 0 {
		return s
	}
	s.Avg = d.sum / float64(d.count)
	s.Min = d.min
	s.Max = d.max
	if d.sketch != nil {
		s.P50, _ = d.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = d.sketch.GetValueAtQuantile(0.90)
		s.P99, _ = d.sketch.GetValueAtQuantile(0.99)
	}
	return s
}

// Reset clears all statistics.
func (d *DriftStats) Reset() {
	d.count = 0
	d.sum = 0
	d.min = math.MaxFloat64
	d.max = -math.MaxFloat64

	// DDSketch has no Clear; start a new one.
	sketch, err := ddsketch.NewDefaultDDSketch(d.accuracy)
	if err == nil {
		d.sketch = sketch
	} else {
		d.sketch = nil
	}
}
