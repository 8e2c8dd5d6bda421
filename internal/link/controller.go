package link

import (
	"bytes"
	"io"
	"math"
	"sync"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var log = logging.Component("link")

// Enqueuer accepts samples for ingestion.
type Enqueuer interface {
	Enqueue(sample types.Sample)
}

// Controller binds sensor sequence numbers to log ids and keeps the
// sensor clock aligned with local time.
//
// Each frame's arrival time is compared with the time its log id should
// have arrived. Every DriftWindow frames the average difference drives a
// correction: a goal proportional to the drift, damped by how much the
// drift changed since the previous window, converted into a target trim
// and emitted as '+' or '-' pulses. Samples are forwarded only once the
// drift has fallen under the calibration threshold.
type Controller struct {
	mu    sync.Mutex
	tb    types.Timebase
	clock clock.Clock
	sink  Enqueuer
	out   io.Writer

	// Timeline binding
	bound      bool
	firstLogID int64
	firstNum   int
	lastNum    int

	// Feedback state
	calibrating bool
	windowCount int
	windowSum   int64
	lastAvg     float64
	lastSet     bool

	// Statistics
	frames   int64
	linkGaps int64
	pulses   int64
	drift    *DriftStats
}

// ControllerStats is a snapshot of controller state.
type ControllerStats struct {
	Calibrating bool
	Frames      int64
	LinkGaps    int64
	Pulses      int64
	LastAvgUs   float64
	Drift       DriftSummary
}

// NewController creates a controller forwarding into sink.
func NewController(tb types.Timebase, clk clock.Clock, sink Enqueuer) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	return &Controller{
		tb:          tb,
		clock:       clk,
		sink:        sink,
		out:         io.Discard,
		calibrating: true,
		drift:       NewDriftStats(config.DriftSketchAccuracy),
	}
}

// Reset prepares for a new connection. Correction pulses go to out.
// Accumulated statistics are kept.
func (c *Controller) Reset(out io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if out == nil {
		out = io.Discard
	}
	c.out = out
	c.bound = false
	c.firstLogID = 0
	c.firstNum = 0
	c.lastNum = 0
	c.calibrating = true
	c.windowCount = 0
	c.windowSum = 0
	c.lastAvg = 0
	c.lastSet = false
}

// HandleFrame processes one decoded frame. The returned error comes from
// writing correction pulses.
func (c *Controller) HandleFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := clock.Micros(c.clock.Now())
	periodUs := c.tb.PeriodMs() * 1000
	c.frames++

	var err error
	if !c.bound {
		c.firstLogID = now/periodUs + 1
		c.firstNum = f.Num
		c.bound = true
		log.Info("calibrating", "offset_us", c.firstLogID*periodUs-now)
	} else {
		switch {
		case f.Num == c.lastNum:
			return nil
		case f.Num < c.lastNum:
			// Sequence wrapped: rebind so the next id follows the last one.
			c.firstLogID += int64(c.lastNum-c.firstNum) + 1
			c.firstNum = f.Num
		case f.Num-c.lastNum > 1:
			c.linkGaps++
			log.Debug("link gap", "from", c.lastNum, "to", f.Num)
		}

		expected := (c.firstLogID + int64(f.Num-c.firstNum)) * periodUs
		err = c.observe(now-expected, f.Shift)
	}

	if !c.calibrating && c.sink != nil {
		c.sink.Enqueue(types.Sample{
			LogID: c.firstLogID + int64(f.Num-c.firstNum),
			Value: f.Value,
		})
	}
	c.lastNum = f.Num
	return err
}

// observe accumulates one arrival difference and runs a correction step at
// the end of each window. Must be called with mu held.
func (c *Controller) observe(diffUs int64, shift int) error {
	c.windowCount++
	c.windowSum += diffUs
	if c.windowCount < config.DriftWindow {
		return nil
	}

	avg := float64(c.windowSum) / float64(c.windowCount)
	c.windowCount = 0
	c.windowSum = 0

	var err error
	if c.lastSet {
		if c.calibrating && math.Abs(avg) < config.CalibrationThresholdUs {
			c.calibrating = false
			log.Info("calibration complete", "avg_drift_us", avg)
		}

		change := avg - c.lastAvg
		var goal float64
		if c.calibrating {
			goal = -avg / config.CalibrationGainDivisor
		} else {
			goal = -avg / config.TrackingGainDivisor
		}
		shiftGoal := int(float64(shift) + (goal-change)/config.DriftWindow)
		delta := shiftGoal - shift
		if c.calibrating {
			delta = int(float64(delta) * config.CalibrationAmplification)
		}

		err = c.pulse(delta)
		log.Debug("drift correction",
			"avg_ms", avg/1000, "change_ms", change/1000, "goal_ms", goal/1000,
			"shift", shift, "target_shift", shiftGoal)
	}

	c.lastAvg = avg
	if !c.calibrating {
		c.drift.Add(avg)
	}
	c.lastSet = true
	return err
}

// pulse writes |delta|/PulseDivisor+1 correction bytes for a non-zero delta.
func (c *Controller) pulse(delta int) error {
	if delta == 0 {
		return nil
	}
	b := byte('+')
	n := delta/config.PulseDivisor + 1
	if delta < 0 {
		b = '-'
		n = -delta/config.PulseDivisor + 1
	}
	if _, err := c.out.Write(bytes.Repeat([]byte{b}, n)); err != nil {
		return err
	}
	c.pulses += int64(n)
	return nil
}

// Calibrating reports whether samples are currently held back.
func (c *Controller) Calibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibrating
}

// Stats returns a snapshot of the controller statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerStats{
		Calibrating: c.calibrating,
		Frames:      c.frames,
		LinkGaps:    c.linkGaps,
		Pulses:      c.pulses,
		LastAvgUs:   c.lastAvg,
		Drift:       c.drift.Summary(),
	}
}

// ResetStats zeroes the counters and drift statistics.
func (c *Controller) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = 0
	c.linkGaps = 0
	c.pulses = 0
	c.drift.Reset()
}
