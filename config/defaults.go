// Package config provides configuration defaults and utilities
// for the seisd acquisition daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override most of these values via seisd.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Protocol Constants
// =============================================================================

const (
	// Version is the daemon release reported on the console.
	Version = "1.4.0"

	// CompatibilityVersion is sent to every client on connect. Clients refuse
	// servers with a different value.
	CompatibilityVersion = 4

	// ErrValue is the sentinel stored in empty slots and used as the range
	// terminator on the client protocol.
	ErrValue int32 = -2147483647
)

// =============================================================================
// Sampling Defaults
// =============================================================================

// SampleRates lists the rates the sensor firmware supports. The index of a
// rate in this list is what the link handshake sends.
//
// An hour bucket has one slot per log id, and a log id is one whole
// millisecond period (1000/rate, truncated). At 60 Hz the period is 16 ms,
// so a bucket holds 3600000/16 = 225000 slots rather than 60*3600 = 216000.
// 60 Hz bucket files with 216000 slots fail the record size check and are
// discarded on load; convert them before pointing the daemon at them.
var SampleRates = [...]int{20, 40, 60, 100, 200}

const (
	// DefaultSampleRate is used when neither config nor flags select one.
	// Override via config: sample_rate
	DefaultSampleRate = 40
)

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the client protocol listen address.
	// Override via config: listen
	DefaultListenAddress = "0.0.0.0:6222"

	// DefaultWriteTimeout bounds a single socket write to a client. A client
	// that cannot absorb data within this window is considered dead.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultCommandLineMax is the longest accepted client command line.
	DefaultCommandLineMax = 128
)

// =============================================================================
// Session Defaults
// =============================================================================

const (
	// DefaultClientTimeout is how long a client may stay silent (no heartbeat)
	// before the watchdog tears the connection down.
	// Override via config: session.client_timeout
	DefaultClientTimeout = 20 * time.Second

	// DefaultWatchdogInterval is the period of the heartbeat watchdog.
	// Override via config: session.watchdog_interval
	DefaultWatchdogInterval = 2 * time.Second

	// DefaultRealtimeMaxGap caps how far behind a realtime subscriber may be.
	// Beyond this, the bookmark jumps to the newest sample.
	DefaultRealtimeMaxGap = 5 * time.Minute

	// DefaultRequestQueueSize is the per-client historical request ring size.
	// One slot is kept free to tell full from empty.
	DefaultRequestQueueSize = 128

	// DefaultRequestMaxLength is the longest range a single getdata may ask for.
	DefaultRequestMaxLength = 24 * time.Hour

	// DefaultRequestChunk is how much of a historical range is sent per
	// sender wake-up, so realtime traffic interleaves with backfill.
	DefaultRequestChunk = 4 * time.Minute

	// DefaultSendBatchSize is the number of samples copied out of the store
	// per lock acquisition while answering a range.
	DefaultSendBatchSize = 64
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root of the bucket file tree.
	// Override via config: storage.data_dir
	DefaultDataDir = "./ZejfCSeis"

	// DefaultAutosaveInterval is the period of the save/evict cycle.
	// Override via config: storage.autosave_interval
	DefaultAutosaveInterval = 30 * time.Second

	// DefaultRetention is how long an unused bucket stays in memory.
	// Override via config: storage.retention
	DefaultRetention = 5 * time.Minute

	// DefaultHotHours is the number of most recent hours that are never evicted.
	// Override via config: storage.hot_hours
	DefaultHotHours = 12

	// BucketFileExt is the extension of bucket files.
	BucketFileExt = ".dat"
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultQueueCapacity is the ingestion ring buffer capacity.
	// At 200 Hz this holds a full minute of samples.
	// Override via config: ingestion.queue_capacity
	DefaultQueueCapacity = 12000
)

// =============================================================================
// Link Defaults
// =============================================================================

const (
	// DefaultSerialDevice is the sensor's serial device.
	// Override via config: serial.device
	DefaultSerialDevice = "/dev/ttyUSB0"

	// DefaultStartupDelay is how long to wait after opening the device before
	// sending the handshake. The sensor resets when the port opens.
	// Override via config: serial.startup_delay
	DefaultStartupDelay = 3 * time.Second

	// DefaultLineMax is the longest sensor line accepted.
	DefaultLineMax = 64
)

// =============================================================================
// Clock-Sync Controller Defaults
// =============================================================================

const (
	// DriftWindow is the number of frames averaged per correction step.
	DriftWindow = 80

	// CalibrationThresholdUs ends calibration once the average drift falls
	// below this many microseconds.
	CalibrationThresholdUs = 1500.0

	// CalibrationGainDivisor and TrackingGainDivisor scale the correction goal
	// (goal = -avg / divisor). Calibration converges faster.
	CalibrationGainDivisor = 4.0
	TrackingGainDivisor    = 5.0

	// CalibrationAmplification multiplies the shift delta while calibrating.
	CalibrationAmplification = 1.5

	// PulseDivisor converts a shift delta into correction pulses
	// (pulses = |delta| / PulseDivisor + 1).
	PulseDivisor = 3

	// DriftSketchAccuracy is the relative accuracy of the drift quantile sketch.
	DriftSketchAccuracy = 0.01
)

// =============================================================================
// Metrics Defaults
// =============================================================================

const (
	// DefaultMetricsReadTimeout bounds metrics endpoint requests.
	DefaultMetricsReadTimeout = 5 * time.Second
)
