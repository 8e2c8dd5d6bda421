package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xtxerr/seisd/internal/storage/types"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if _, err := types.ParseSampleRate(c.SampleRate); err != nil {
		errs = append(errs, fmt.Errorf("sample_rate: %w", err))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("time_zone: %w", err))
	}

	if c.AutosaveInterval < time.Second {
		errs = append(errs, errors.New("autosave_interval must be at least 1s"))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Idle <= 0 {
		errs = append(errs, errors.New("idle must be positive"))
	}
	if c.HotHours < 1 {
		errs = append(errs, errors.New("hot_hours must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	// One slot stays free to tell full from empty.
	if c.QueueCapacity < 2 {
		return errors.New("queue_capacity must be at least 2")
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	var errs []error

	switch c.Compression {
	case "snappy", "lz4", "gzip", "none", "":
	case "zstd":
		if c.Level < 0 || c.Level > 22 {
			errs = append(errs, fmt.Errorf("zstd level must be 0-22, got %d", c.Level))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Compression))
	}

	if c.RowGroupSize < 0 {
		errs = append(errs, errors.New("row_group_size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates the rate subtree of the data directory.
func (c *Config) EnsureDirectories() error {
	dir := c.RateDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// RateDir returns <data_dir>/<rate>_sps.
func (c *Config) RateDir() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("%d_sps", c.SampleRate))
}
