package link

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage/types"
)

// Port is an open serial line.
type Port io.ReadWriteCloser

// Opener opens the named device.
type Opener func(device string) (Port, error)

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Device       string
	SampleRate   types.SampleRate
	StartupDelay time.Duration
	LineMax      int
}

// ReaderStats holds reader counters.
type ReaderStats struct {
	Running   bool
	Device    string
	Lines     int64
	Malformed int64
	Overflows int64
	Sessions  int64
}

// Reader owns the serial connection: it sends the rate handshake, splits
// the byte stream into lines and hands decoded frames to the Controller.
type Reader struct {
	cfg        ReaderConfig
	controller *Controller
	open       Opener

	mu      sync.Mutex
	port    Port
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool

	lines     atomic.Int64
	malformed atomic.Int64
	overflows atomic.Int64
	sessions  atomic.Int64
}

// NewReader creates a reader. A nil opener uses OpenSerial.
func NewReader(cfg ReaderConfig, controller *Controller, open Opener) *Reader {
	if cfg.LineMax <= 0 {
		cfg.LineMax = config.DefaultLineMax
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if open == nil {
		open = OpenSerial
	}
	return &Reader{cfg: cfg, controller: controller, open: open}
}

// Start opens the device and begins reading in the background. Open
// failures are returned and leave the reader stopped.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return errors.ErrAlreadyRunning
	}

	port, err := r.open(r.cfg.Device)
	if err != nil {
		return errors.Wrapf(err, "open %s", r.cfg.Device)
	}

	r.controller.Reset(port)
	r.port = port
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.running.Store(true)
	r.sessions.Add(1)

	go r.run(port, r.stop, r.done)

	log.Info("link opened", "device", r.cfg.Device, "sample_rate", r.cfg.SampleRate.String())
	return nil
}

// Stop closes the device and waits for the read loop to exit.
func (r *Reader) Stop() error {
	r.mu.Lock()
	if !r.running.Load() || r.stop == nil {
		r.mu.Unlock()
		return errors.ErrNotRunning
	}
	port, stop, done := r.port, r.stop, r.done
	r.stop = nil
	r.mu.Unlock()

	close(stop)
	port.Close()
	<-done
	return nil
}

// IsRunning reports whether the read loop is active.
func (r *Reader) IsRunning() bool {
	return r.running.Load()
}

// Controller returns the controller frames are fed to.
func (r *Reader) Controller() *Controller {
	return r.controller
}

// Stats returns the reader counters.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		Running:   r.running.Load(),
		Device:    r.cfg.Device,
		Lines:     r.lines.Load(),
		Malformed: r.malformed.Load(),
		Overflows: r.overflows.Load(),
		Sessions:  r.sessions.Load(),
	}
}

// ResetStats zeroes the reader counters.
func (r *Reader) ResetStats() {
	r.lines.Store(0)
	r.malformed.Store(0)
	r.overflows.Store(0)
}

func (r *Reader) run(port Port, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		r.mu.Lock()
		r.running.Store(false)
		r.port = nil
		r.stop = nil
		r.mu.Unlock()
		port.Close()
		close(done)
		log.Info("link closed", "device", r.cfg.Device)
	}()

	if r.cfg.StartupDelay > 0 {
		timer := time.NewTimer(r.cfg.StartupDelay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	handshake := []byte{'r', byte('0' + r.cfg.SampleRate.Index())}
	if _, err := port.Write(handshake); err != nil {
		log.Error("handshake failed", "device", r.cfg.Device, "error", err)
		return
	}

	buf := make([]byte, 1024)
	line := make([]byte, 0, r.cfg.LineMax)

	for {
		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				r.handleLine(string(line))
				line = line[:0]
				continue
			}
			if len(line) >= r.cfg.LineMax-1 {
				r.overflows.Add(1)
				log.Warn("sensor line too long, discarded", "max", r.cfg.LineMax)
				line = line[:0]
			}
			line = append(line, b)
		}

		select {
		case <-stop:
			return
		default:
		}

		if err == nil {
			continue
		}
		if err != io.EOF {
			log.Error("link read failed", "device", r.cfg.Device, "error", err)
			return
		}
		if _, statErr := os.Stat(r.cfg.Device); statErr != nil {
			log.Error("link lost", "device", r.cfg.Device, "error", errors.ErrDeviceGone)
			return
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (r *Reader) handleLine(s string) {
	r.lines.Add(1)
	f, err := DecodeFrame(s)
	if err != nil {
		r.malformed.Add(1)
		log.Debug("sensor chatter", "line", s)
		return
	}
	if err := r.controller.HandleFrame(f); err != nil {
		log.Warn("correction write failed", "device", r.cfg.Device, "error", err)
	}
}
