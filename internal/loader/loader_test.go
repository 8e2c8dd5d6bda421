package loader

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/seisd/internal/errors"
	testutil "github.com/xtxerr/seisd/internal/testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seisd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.SampleRate != 40 {
		t.Errorf("SampleRate = %d, want 40", cfg.SampleRate)
	}
	if cfg.Listen != "0.0.0.0:6222" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Metrics.Listen != "" {
		t.Error("metrics should be disabled by default")
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("SEISD_TEST_DIR", "/var/lib/seis")

	path := writeConfig(t, `
sample_rate: 60
serial:
  device: /dev/ttyACM0
  startup_delay: 2
listen: 127.0.0.1:7000
storage:
  data_dir: ${SEISD_TEST_DIR}
  autosave_interval: 1m
  retention: 10m
  hot_hours: 6
metrics:
  listen: 127.0.0.1:9100
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.SampleRate != 60 {
		t.Errorf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.Serial.Device != "/dev/ttyACM0" {
		t.Errorf("Device = %q", cfg.Serial.Device)
	}
	if cfg.Serial.StartupDelay.Duration() != 2*time.Second {
		t.Errorf("StartupDelay = %v, want integer seconds", cfg.Serial.StartupDelay.Duration())
	}
	if cfg.Storage.DataDir != "/var/lib/seis" {
		t.Errorf("DataDir = %q, env not expanded", cfg.Storage.DataDir)
	}
	if cfg.Storage.AutosaveInterval.Duration() != time.Minute {
		t.Errorf("AutosaveInterval = %v", cfg.Storage.AutosaveInterval.Duration())
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// Untouched sections keep their defaults.
	if cfg.Session.ClientTimeout.Duration() != 20*time.Second {
		t.Errorf("ClientTimeout = %v", cfg.Session.ClientTimeout.Duration())
	}
	if cfg.Storage.QueueCapacity != 12000 {
		t.Errorf("QueueCapacity = %d", cfg.Storage.QueueCapacity)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back: %v", err)
	}
	if found {
		t.Error("found should be false")
	}
	if cfg.SampleRate != DefaultConfig().SampleRate {
		t.Error("expected defaults")
	}

	bad := writeConfig(t, "sample_rate: [1, 2\n")
	if _, _, err := LoadOrDefault(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("storage:\n  retention: soon\n")); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported rate", func(c *Config) { c.SampleRate = 50 }},
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"listen without port", func(c *Config) { c.Listen = "localhost" }},
		{"bad metrics listen", func(c *Config) { c.Metrics.Listen = "nowhere" }},
		{"missing device", func(c *Config) { c.Serial.Device = "" }},
		{"watchdog slower than timeout", func(c *Config) {
			c.Session.WatchdogInterval = Duration(time.Minute)
		}},
		{"tiny request queue", func(c *Config) { c.Session.RequestQueueSize = 1 }},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"unknown compression", func(c *Config) { c.Export.Compression = "brotli" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("expected validation category, got %v", err)
			}
		})
	}
}

func TestDisabledLinkNeedsNoDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serial.Device = ""
	cfg.Serial.Disabled = true
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled link should not require a device: %v", err)
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 100
	cfg.Storage.HotHours = 3
	cfg.Session.RequestQueueSize = 16
	cfg.Export.Compression = "ZSTD"

	sc := ToStorageConfig(cfg)
	if sc.SampleRate != 100 || sc.Retention.HotHours != 3 {
		t.Errorf("storage config = %+v", sc)
	}
	if sc.Export.Compression != "zstd" {
		t.Errorf("compression = %q", sc.Export.Compression)
	}

	srv := ToServerConfig(cfg)
	if srv.SampleRate != 100 || srv.Session.RequestQueueSize != 16 {
		t.Errorf("server config = %+v", srv)
	}
	if srv.Session.RequestChunk != 4*time.Minute {
		t.Errorf("unset session fields should keep defaults, chunk = %v", srv.Session.RequestChunk)
	}

	rc := ToReaderConfig(cfg)
	if int(rc.SampleRate) != 100 || rc.StartupDelay != 3*time.Second {
		t.Errorf("reader config = %+v", rc)
	}
}

func TestWatcherReloads(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	var level atomic.Value
	w := NewWatcher(path, 10*time.Millisecond, func(cfg *Config) {
		level.Store(cfg.Logging.Level)
	})
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	err := testutil.Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	})
	if err != nil {
		t.Fatal("watcher did not deliver the reloaded config")
	}
}

func TestWatcherIgnoresInvalid(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	var calls atomic.Int32
	w := NewWatcher(path, 10*time.Millisecond, func(*Config) { calls.Add(1) })
	w.Start()

	if err := os.WriteFile(path, []byte("sample_rate: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()

	if calls.Load() != 0 {
		t.Errorf("callback ran %d times for an invalid file", calls.Load())
	}
}
