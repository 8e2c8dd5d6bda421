// Package config holds the storage configuration: where bucket files live,
// how the working set is bounded and how exports are compressed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/seisd/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory of the bucket file tree.
	DataDir string `yaml:"data_dir"`

	// SampleRate is the sensor rate in Hz. It selects the <rate>_sps
	// subtree and the bucket size.
	SampleRate int `yaml:"sample_rate"`

	// TimeZone names the location used for the calendar part of bucket
	// paths. Empty means the process local zone.
	TimeZone string `yaml:"time_zone"`

	// AutosaveInterval is the period of the save/evict cycle.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`

	// Retention configures the in-memory working set bound.
	Retention RetentionConfig `yaml:"retention"`

	// Ingestion configures the ingestion ring buffer.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Export configures Parquet exports.
	Export ExportConfig `yaml:"export"`
}

// RetentionConfig bounds the buckets kept in memory.
type RetentionConfig struct {
	// Idle is how long a bucket may go unaccessed before it can be evicted.
	Idle time.Duration `yaml:"idle"`

	// HotHours is the number of most recent hours that are never evicted.
	HotHours int `yaml:"hot_hours"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	// QueueCapacity is the ring buffer size in samples.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Compression is the codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`

	// RowGroupSize is the number of rows per row group.
	RowGroupSize int `yaml:"row_group_size"`
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:          defaults.DefaultDataDir,
		SampleRate:       defaults.DefaultSampleRate,
		AutosaveInterval: defaults.DefaultAutosaveInterval,
		Retention: RetentionConfig{
			Idle:     defaults.DefaultRetention,
			HotHours: defaults.DefaultHotHours,
		},
		Ingestion: IngestionConfig{
			QueueCapacity: defaults.DefaultQueueCapacity,
		},
		Export: ExportConfig{
			Compression:  "zstd",
			Level:        3,
			RowGroupSize: 144000,
		},
	}
}
