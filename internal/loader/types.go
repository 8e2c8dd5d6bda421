// Package loader - Configuration Types
//
// LOCATION: internal/loader/types.go
//
// Defines the YAML configuration structure for seisd.
//
// ARCHITECTURE:
//
//   ┌─────────────────────────────────────────────────────────────────────┐
//   │                          seisd.yaml                                 │
//   ├─────────────────────────────────────────────────────────────────────┤
//   │                                                                     │
//   │  sample_rate: sensor rate, shared by link, store and server         │
//   │                                                                     │
//   │  ┌─────────────────────┐    ┌─────────────────────────────────┐    │
//   │  │      serial:        │    │          storage:               │    │
//   │  │  (sensor link)      │    │   (hour buckets on disk)        │    │
//   │  ├─────────────────────┤    ├─────────────────────────────────┤    │
//   │  │ • Device path       │    │ • Data directory                │    │
//   │  │ • Startup delay     │    │ • Autosave period               │    │
//   │  │                     │    │ • Working-set retention         │    │
//   │  └─────────────────────┘    │ • Ingestion queue               │    │
//   │                             └─────────────────────────────────┘    │
//   │                                                                     │
//   │  listen:   client protocol address                                  │
//   │  session:  watchdog and per-client limits                           │
//   │  export:   Parquet export codec                                     │
//   │  metrics:  Prometheus / status endpoint                             │
//   │  logging:  level and format                                         │
//   │                                                                     │
//   └─────────────────────────────────────────────────────────────────────┘

package loader

import (
	"strconv"
	"time"

	"github.com/xtxerr/seisd/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for seisd.
type Config struct {
	// SampleRate is the sensor rate in Hz. Must be one of the rates the
	// firmware supports (20, 40, 60, 100, 200).
	// Default: 40
	SampleRate int `yaml:"sample_rate"`

	// Serial configures the sensor link.
	Serial SerialConfig `yaml:"serial"`

	// Listen is the client protocol listen address.
	// Format: "host:port" or ":port"
	// Default: "0.0.0.0:6222"
	Listen string `yaml:"listen"`

	// Session configures client session management.
	Session SessionConfig `yaml:"session"`

	// Storage configures the bucket store and ingestion pipeline.
	Storage StorageConfig `yaml:"storage"`

	// Export configures Parquet exports from the console.
	Export ExportConfig `yaml:"export"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// =============================================================================
// Sections
// =============================================================================

// SerialConfig configures the sensor serial link.
type SerialConfig struct {
	// Device is the serial device path.
	Device string `yaml:"device"`

	// StartupDelay is the wait between opening the device and the handshake.
	StartupDelay Duration `yaml:"startup_delay"`

	// Disabled keeps the link closed at startup. It can still be opened
	// from the console.
	Disabled bool `yaml:"disabled"`
}

// SessionConfig configures client sessions.
type SessionConfig struct {
	// ClientTimeout is how long a client may stay silent before removal.
	ClientTimeout Duration `yaml:"client_timeout"`

	// WatchdogInterval is the heartbeat watchdog period.
	WatchdogInterval Duration `yaml:"watchdog_interval"`

	// WriteTimeout bounds one socket write.
	WriteTimeout Duration `yaml:"write_timeout"`

	// RealtimeMaxGap caps realtime catch-up.
	RealtimeMaxGap Duration `yaml:"realtime_max_gap"`

	// RequestQueueSize is the per-client historical request ring size.
	RequestQueueSize int `yaml:"request_queue_size"`
}

// StorageConfig configures the bucket store.
type StorageConfig struct {
	// DataDir is the root of the bucket tree.
	DataDir string `yaml:"data_dir"`

	// TimeZone selects the calendar used for bucket paths. Empty means local.
	TimeZone string `yaml:"time_zone"`

	// AutosaveInterval is the save/evict cycle period.
	AutosaveInterval Duration `yaml:"autosave_interval"`

	// Retention is how long an unused bucket stays in memory.
	Retention Duration `yaml:"retention"`

	// HotHours is the number of recent hours never evicted.
	HotHours int `yaml:"hot_hours"`

	// QueueCapacity is the ingestion ring buffer size in samples.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	Compression  string `yaml:"compression"`
	Level        int    `yaml:"level"`
	RowGroupSize int    `yaml:"row_group_size"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address for /metrics and /status. Empty disables it.
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of logfmt text.
	JSON bool `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SampleRate: config.DefaultSampleRate,

		Serial: SerialConfig{
			Device:       config.DefaultSerialDevice,
			StartupDelay: Duration(config.DefaultStartupDelay),
		},

		Listen: config.DefaultListenAddress,

		Session: SessionConfig{
			ClientTimeout:    Duration(config.DefaultClientTimeout),
			WatchdogInterval: Duration(config.DefaultWatchdogInterval),
			WriteTimeout:     Duration(config.DefaultWriteTimeout),
			RealtimeMaxGap:   Duration(config.DefaultRealtimeMaxGap),
			RequestQueueSize: config.DefaultRequestQueueSize,
		},

		Storage: StorageConfig{
			DataDir:          config.DefaultDataDir,
			AutosaveInterval: Duration(config.DefaultAutosaveInterval),
			Retention:        Duration(config.DefaultRetention),
			HotHours:         config.DefaultHotHours,
			QueueCapacity:    config.DefaultQueueCapacity,
		},

		Export: ExportConfig{
			Compression:  "zstd",
			Level:        3,
			RowGroupSize: 144000,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	// Plain integers decode into the string too; they mean seconds.
	if i, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
