// Package loader handles configuration file loading, validation, and conversion.
//
// LOCATION: internal/loader/loader.go
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Converting the YAML sections into subsystem configs
//   - Watching the file for runtime-adjustable settings

package loader

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/handler"
	"github.com/xtxerr/seisd/internal/link"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/server"
	storageconfig "github.com/xtxerr/seisd/internal/storage/config"
	"github.com/xtxerr/seisd/internal/storage/types"
	"gopkg.in/yaml.v3"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file is missing.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	return nil, false, err
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if _, err := types.ParseSampleRate(cfg.SampleRate); err != nil {
		errs.Add(fmt.Errorf("sample_rate: %w", err))
	}

	// Network
	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		errs.AddField("listen", err.Error())
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			errs.AddField("metrics.listen", err.Error())
		}
	}

	// Link
	if cfg.Serial.Device == "" && !cfg.Serial.Disabled {
		errs.AddMissing("serial.device")
	}
	if cfg.Serial.StartupDelay < 0 {
		errs.AddField("serial.startup_delay", "cannot be negative")
	}

	// Sessions
	if cfg.Session.ClientTimeout.Duration() < time.Second {
		errs.AddField("session.client_timeout", "must be at least 1s")
	}
	if cfg.Session.WatchdogInterval.Duration() <= 0 {
		errs.AddField("session.watchdog_interval", "must be positive")
	} else if cfg.Session.WatchdogInterval >= cfg.Session.ClientTimeout {
		errs.AddField("session.watchdog_interval", "must be shorter than client_timeout")
	}
	if cfg.Session.WriteTimeout.Duration() <= 0 {
		errs.AddField("session.write_timeout", "must be positive")
	}
	if cfg.Session.RequestQueueSize < 2 {
		errs.AddField("session.request_queue_size", "must be at least 2")
	}

	// Storage, checked by its own validator
	if err := ToStorageConfig(cfg).Validate(); err != nil {
		errs.Add(fmt.Errorf("storage: %v: %w", err, errors.ErrInvalidConfig))
	}

	// Logging
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// ToStorageConfig converts the storage section to the internal storage config.
func ToStorageConfig(cfg *Config) *storageconfig.Config {
	return &storageconfig.Config{
		DataDir:          cfg.Storage.DataDir,
		SampleRate:       cfg.SampleRate,
		TimeZone:         cfg.Storage.TimeZone,
		AutosaveInterval: cfg.Storage.AutosaveInterval.Duration(),

		Retention: storageconfig.RetentionConfig{
			Idle:     cfg.Storage.Retention.Duration(),
			HotHours: cfg.Storage.HotHours,
		},

		Ingestion: storageconfig.IngestionConfig{
			QueueCapacity: cfg.Storage.QueueCapacity,
		},

		Export: storageconfig.ExportConfig{
			Compression:  strings.ToLower(cfg.Export.Compression),
			Level:        cfg.Export.Level,
			RowGroupSize: cfg.Export.RowGroupSize,
		},
	}
}

// ToServerConfig converts the listen and session sections to the server config.
func ToServerConfig(cfg *Config) server.Config {
	sess := handler.DefaultConfig()
	sess.WriteTimeout = cfg.Session.WriteTimeout.Duration()
	sess.RealtimeMaxGap = cfg.Session.RealtimeMaxGap.Duration()
	sess.RequestQueueSize = cfg.Session.RequestQueueSize

	return server.Config{
		Listen:           cfg.Listen,
		SampleRate:       cfg.SampleRate,
		ClientTimeout:    cfg.Session.ClientTimeout.Duration(),
		WatchdogInterval: cfg.Session.WatchdogInterval.Duration(),
		Session:          sess,
	}
}

// ToReaderConfig converts the serial section to the link reader config.
// cfg must have passed Validate.
func ToReaderConfig(cfg *Config) link.ReaderConfig {
	return link.ReaderConfig{
		Device:       cfg.Serial.Device,
		SampleRate:   types.SampleRate(cfg.SampleRate),
		StartupDelay: cfg.Serial.StartupDelay.Duration(),
	}
}

// =============================================================================
// Config Watcher
// =============================================================================

// Watcher watches a config file for changes and reloads it. Only settings
// that are safe to change at runtime are handed to the callback; the rest
// take effect on restart.
type Watcher struct {
	path     string
	interval time.Duration
	callback func(*Config)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	modTime  time.Time
}

// NewWatcher creates a new config file watcher polling every interval.
func NewWatcher(path string, interval time.Duration, callback func(*Config)) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching the config file.
func (w *Watcher) Start() {
	// Get initial mod time
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}

	w.wg.Add(1)
	go w.watch()
}

// Stop stops watching and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}

			if info.ModTime().After(w.modTime) {
				w.modTime = info.ModTime()
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	log.Info("config reloaded", "path", w.path)
	if w.callback != nil {
		w.callback(cfg)
	}
}
