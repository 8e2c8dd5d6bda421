// Package manager wires the seisd subsystems together.
//
// A Manager is built from a validated loader.Config and owns every
// long-lived component:
//
//	serial link ─► Controller ─► ingestion.Service ─► Store ◄─ server sessions
//	                                     │                          ▲
//	                                     └──── NotifyRealtime ──────┘
//
// Start brings them up in dependency order and Shutdown tears them down in
// reverse: listener and sessions first, the store flush last.
package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/handler"
	"github.com/xtxerr/seisd/internal/link"
	"github.com/xtxerr/seisd/internal/loader"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/metrics"
	"github.com/xtxerr/seisd/internal/server"
	"github.com/xtxerr/seisd/internal/storage"
	"github.com/xtxerr/seisd/internal/storage/ingestion"
	"github.com/xtxerr/seisd/internal/storage/parquet"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var log = logging.Component("manager")

// Options carries the injectable parts of a Manager.
type Options struct {
	// Clock defaults to the real clock.
	Clock clock.Clock

	// Opener opens the serial device. Nil uses link.OpenSerial.
	Opener link.Opener
}

// Status is the operator view of the daemon: the counter snapshot plus the
// state of the switchable subsystems.
type Status struct {
	metrics.Snapshot

	LinkState   StateInfo
	ServerState StateInfo
}

// Manager owns the daemon's subsystems.
type Manager struct {
	cfg   *loader.Config
	clock clock.Clock

	store      *storage.Store
	ingest     *ingestion.Service
	controller *link.Controller
	reader     *link.Reader
	server     *server.Server
	metrics    *metrics.Server

	linkState   *SubsystemState
	serverState *SubsystemState

	// Serializes Open*/Close*/Start/Shutdown.
	mu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
	running atomic.Bool
	closed  bool
}

// New builds every subsystem from cfg. Nothing runs until Start.
func New(cfg *loader.Config, opts Options) (*Manager, error) {
	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	store, err := storage.New(loader.ToStorageConfig(cfg), storage.Options{Clock: opts.Clock})
	if err != nil {
		return nil, errors.Wrap(err, "create store")
	}
	tb := store.Timebase()

	ingest := ingestion.New(loader.ToStorageConfig(cfg).Ingestion, store, ingestion.Options{})

	srv := server.New(loader.ToServerConfig(cfg), handler.Deps{
		Store:    store,
		Injector: ingest,
		Timebase: tb,
		Clock:    opts.Clock,
	})
	ingest.SetNotifier(srv.NotifyRealtime)

	controller := link.NewController(tb, opts.Clock, ingest)
	reader := link.NewReader(loader.ToReaderConfig(cfg), controller, opts.Opener)

	m := &Manager{
		cfg:         cfg,
		clock:       opts.Clock,
		store:       store,
		ingest:      ingest,
		controller:  controller,
		reader:      reader,
		server:      srv,
		linkState:   NewSubsystemState("link", opts.Clock),
		serverState: NewSubsystemState("server", opts.Clock),
	}
	m.metrics = metrics.New(metrics.Config{Listen: cfg.Metrics.Listen}, m.snapshot)
	return m, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start loads recent hours, starts the autosave loop and the consumer, then
// opens the link (unless disabled), the client server and the metrics
// endpoint. A link or listener that fails to open is logged and reported as
// not running; the operator reopens it from the console.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrNotRunning
	}
	if !m.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	m.started = m.clock.Now()

	storeCfg := loader.ToStorageConfig(m.cfg)
	if err := storeCfg.EnsureDirectories(); err != nil {
		m.running.Store(false)
		return errors.Wrap(err, "create data directory")
	}
	req := storeCfg.CalculateRequirements()
	log.Debug("storage requirements",
		"bucket_bytes", req.BucketBytes,
		"ram_bytes", req.TotalRAMBytes,
		"disk_bytes_per_day", req.BytesPerDay)

	m.store.Warm()

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.store.Run(m.ctx); err != nil {
			log.Error("store loop", "error", err)
		}
	}()

	if err := m.ingest.Start(); err != nil {
		m.abortLocked()
		return errors.Wrap(err, "start ingestion")
	}

	if !m.cfg.Serial.Disabled {
		if err := m.openLinkLocked(); err != nil {
			log.Warn("serial link not opened", "device", m.cfg.Serial.Device, "error", err)
		}
	}

	if err := m.openServerLocked(); err != nil {
		log.Warn("server not opened", "listen", m.cfg.Listen, "error", err)
	}

	if err := m.metrics.Start(); err != nil {
		log.Warn("metrics endpoint not opened", "listen", m.cfg.Metrics.Listen, "error", err)
	}

	log.Info("seisd started",
		"version", config.Version,
		"sample_rate", m.cfg.SampleRate,
		"data_dir", m.cfg.Storage.DataDir,
		"resident_hours", m.store.Stats().Resident)
	return nil
}

// abortLocked unwinds a partial Start.
func (m *Manager) abortLocked() {
	m.shutdownLocked()
	m.closed = false
	m.running.Store(false)
}

// Shutdown stops everything in dependency order: metrics, client server
// (listener, watchdog, sessions), serial link, consumer (after a final
// drain), autosave loop, and finally the store flush. It is idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running.Load() {
		return nil
	}
	err := m.shutdownLocked()
	m.running.Store(false)
	return err
}

func (m *Manager) shutdownLocked() error {
	m.closed = true
	var errs []error

	if err := m.metrics.Stop(); err != nil && !errors.Is(err, errors.ErrNotRunning) {
		errs = append(errs, errors.Wrap(err, "stop metrics"))
	}
	if err := m.server.Stop(); err != nil && !errors.Is(err, errors.ErrNotRunning) {
		errs = append(errs, errors.Wrap(err, "stop server"))
	}
	if err := m.reader.Stop(); err != nil && !errors.Is(err, errors.ErrNotRunning) {
		errs = append(errs, errors.Wrap(err, "close link"))
	}
	if err := m.ingest.Stop(); err != nil {
		errs = append(errs, errors.Wrap(err, "stop ingestion"))
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if err := m.store.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "flush store"))
	}

	log.Info("seisd stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether Start succeeded and Shutdown has not run.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// =============================================================================
// Subsystem control
// =============================================================================

// OpenLink opens the serial link.
func (m *Manager) OpenLink() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running.Load() {
		return errors.ErrNotRunning
	}
	return m.openLinkLocked()
}

func (m *Manager) openLinkLocked() error {
	if err := m.reader.Start(); err != nil {
		if !errors.Is(err, errors.ErrAlreadyRunning) {
			m.linkState.RecordFailure(err)
		}
		return err
	}
	m.linkState.RecordOpen()
	return nil
}

// CloseLink closes the serial link.
func (m *Manager) CloseLink() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.reader.Stop()
	m.linkState.RecordClose()
	return err
}

// OpenServer starts the client server.
func (m *Manager) OpenServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running.Load() {
		return errors.ErrNotRunning
	}
	return m.openServerLocked()
}

func (m *Manager) openServerLocked() error {
	if err := m.server.Start(); err != nil {
		if !errors.Is(err, errors.ErrAlreadyRunning) {
			m.serverState.RecordFailure(err)
		}
		return err
	}
	m.serverState.RecordOpen()
	return nil
}

// CloseServer stops the client server and disconnects every client.
func (m *Manager) CloseServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.server.Stop()
	m.serverState.RecordClose()
	return err
}

// =============================================================================
// Status
// =============================================================================

func (m *Manager) snapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Version:    config.Version,
		SampleRate: m.cfg.SampleRate,
		Started:    m.started,
		Taken:      m.clock.Now(),
		Store:      m.store.Stats(),
		Ingestion:  m.ingest.Stats(),
		Link:       m.reader.Stats(),
		Controller: m.controller.Stats(),
		Server:     m.server.Stats(),
		Sessions:   m.server.Sessions(),
	}
}

// Status returns the current status.
func (m *Manager) Status() Status {
	return Status{
		Snapshot:    m.snapshot(),
		LinkState:   m.linkState.Info(m.reader.IsRunning()),
		ServerState: m.serverState.Info(m.server.IsRunning()),
	}
}

// ResetStats zeroes every resettable counter: link gaps, ingestion gaps,
// drift extremes, queue high-water and the per-subsystem totals.
func (m *Manager) ResetStats() {
	m.store.ResetStats()
	m.ingest.ResetStats()
	m.controller.ResetStats()
	m.reader.ResetStats()
	m.server.ResetStats()
	log.Info("statistics reset")
}

// =============================================================================
// Accessors
// =============================================================================

// Config returns the configuration the manager was built from.
func (m *Manager) Config() *loader.Config { return m.cfg }

// Timebase returns the store's timebase.
func (m *Manager) Timebase() types.Timebase { return m.store.Timebase() }

// Store returns the sample store.
func (m *Manager) Store() *storage.Store { return m.store }

// ServerAddr returns the client listener address, or nil.
func (m *Manager) ServerAddr() string {
	if a := m.server.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// MetricsAddr returns the metrics listener address, or "".
func (m *Manager) MetricsAddr() string {
	if a := m.metrics.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// =============================================================================
// Export and reload
// =============================================================================

// Export writes hours [firstHour, lastHour] to a Parquet file at path.
func (m *Manager) Export(firstHour, lastHour int32, path string) (*parquet.ExportResult, error) {
	opts := parquet.Options{
		Compression:      parquet.ParseCompressionType(m.cfg.Export.Compression),
		CompressionLevel: m.cfg.Export.Level,
		RowGroupSize:     m.cfg.Export.RowGroupSize,
	}
	res, err := parquet.ExportHours(m.store, firstHour, lastHour, path, opts)
	if err != nil {
		return nil, err
	}
	log.Info("export written", "path", res.Path, "first_hour", firstHour, "last_hour", lastHour, "rows", res.Rows)
	return res, nil
}

// Reload applies the runtime-adjustable parts of a reloaded config. Today
// that is the log level; everything else needs a restart.
func (m *Manager) Reload(cfg *loader.Config) {
	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Warn("reload ignored", "error", err)
		return
	}
	logging.SetLevel(lvl)
	log.Info("log level applied", "level", lvl.String())
}
