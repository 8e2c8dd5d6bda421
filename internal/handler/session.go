// Package handler serves one client connection of the text protocol.
//
// A Session owns two goroutines. The reader parses commands and updates
// session state; the sender sleeps on a one-slot wake channel and, when
// woken, answers a pending heartbeat probe, pushes new realtime samples and
// sends one chunk of the oldest historical request. Store reads copy
// samples out under the store lock; socket writes happen after it is
// released.
package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/storage/types"
	"github.com/xtxerr/seisd/internal/wire"
)

var log = logging.Component("session")

// Store is the sample store as seen by a session.
type Store interface {
	LastLogID() int64
	Range(first, last int64, limit int) ([]types.Sample, int64)
	Lookup(hourID int32, allowLoad bool) (int32, bool)
}

// Injector accepts samples sent by clients.
type Injector interface {
	Enqueue(sample types.Sample)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Store    Store
	Injector Injector
	Timebase types.Timebase
	Clock    clock.Clock
}

// Config holds session limits.
type Config struct {
	WriteTimeout     time.Duration
	RealtimeMaxGap   time.Duration
	RequestMaxLength time.Duration
	RequestChunk     time.Duration
	RequestQueueSize int
	SendBatchSize    int
	CommandLineMax   int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:     config.DefaultWriteTimeout,
		RealtimeMaxGap:   config.DefaultRealtimeMaxGap,
		RequestMaxLength: config.DefaultRequestMaxLength,
		RequestChunk:     config.DefaultRequestChunk,
		RequestQueueSize: config.DefaultRequestQueueSize,
		SendBatchSize:    config.DefaultSendBatchSize,
		CommandLineMax:   config.DefaultCommandLineMax,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RealtimeMaxGap <= 0 {
		c.RealtimeMaxGap = d.RealtimeMaxGap
	}
	if c.RequestMaxLength <= 0 {
		c.RequestMaxLength = d.RequestMaxLength
	}
	if c.RequestChunk <= 0 {
		c.RequestChunk = d.RequestChunk
	}
	if c.RequestQueueSize <= 1 {
		c.RequestQueueSize = d.RequestQueueSize
	}
	if c.SendBatchSize <= 0 {
		c.SendBatchSize = d.SendBatchSize
	}
	if c.CommandLineMax <= 0 {
		c.CommandLineMax = d.CommandLineMax
	}
}

// =============================================================================
// Session
// =============================================================================

// Session is one connected client.
//
// Session is safe for concurrent use.
type Session struct {
	// Immutable fields (no lock needed)
	ID         uint64
	RemoteAddr string
	CreatedAt  time.Time

	conn net.Conn
	wire *wire.Conn
	deps Deps
	cfg  Config
	ctx  context.Context

	// Session state - protected by mu
	mu            sync.Mutex
	realtime      bool
	lastSent      int64
	lastHeartbeat time.Time
	probe         bool

	requests *RequestQueue

	wake      chan struct{}
	dead      chan struct{}
	deadOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Statistics
	commands      atomic.Int64
	violations    atomic.Int64
	samplesSent   atomic.Int64
	realtimeSkips atomic.Int64
	injected      atomic.Int64
}

// SessionStats is a snapshot of one session.
type SessionStats struct {
	ID              uint64
	RemoteAddr      string
	Realtime        bool
	LastSent        int64
	LastHeartbeat   time.Time
	PendingRequests int
	DroppedRequests int64
	Commands        int64
	Violations      int64
	SamplesSent     int64
	RealtimeSkips   int64
	Injected        int64
}

// NewSession creates a session on conn. Nothing is sent until Start.
func NewSession(id uint64, conn net.Conn, deps Deps, cfg Config) *Session {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	now := deps.Clock.Now()
	return &Session{
		ID:            id,
		RemoteAddr:    conn.RemoteAddr().String(),
		CreatedAt:     now,
		conn:          conn,
		wire:          wire.NewConn(conn, cfg.CommandLineMax, cfg.WriteTimeout),
		deps:          deps,
		cfg:           cfg,
		ctx:           logging.ContextWithClientID(context.Background(), id),
		lastSent:      -1,
		lastHeartbeat: now,
		requests:      NewRequestQueue(cfg.RequestQueueSize),
		wake:          make(chan struct{}, 1),
		dead:          make(chan struct{}),
	}
}

// Start sends the greeting and launches the reader and sender. A failed
// greeting leaves the session dead.
func (s *Session) Start(g wire.Greeting) error {
	s.wire.Greeting(g)
	if err := s.wire.Flush(); err != nil {
		s.kill()
		return err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.sendLoop()

	log.InfoContext(s.ctx, "client connected", "remote", s.RemoteAddr)
	return nil
}

// Signal wakes the sender. Signals coalesce while the sender is busy.
func (s *Session) Signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Probe asks the sender to send a heartbeat request.
func (s *Session) Probe() {
	s.mu.Lock()
	s.probe = true
	s.mu.Unlock()
	s.Signal()
}

// Realtime reports whether the client subscribed to the live feed.
func (s *Session) Realtime() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realtime
}

// Alive reports whether both goroutines are still serving the client.
func (s *Session) Alive() bool {
	select {
	case <-s.dead:
		return false
	default:
		return true
	}
}

// Expired reports whether the session is dead or silent for longer than
// timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	if !s.Alive() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat) > timeout
}

// Close tears the session down and waits for both goroutines. It is
// idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.kill()
		s.wg.Wait()
		log.InfoContext(s.ctx, "client disconnected", "remote", s.RemoteAddr)
	})
}

// kill marks the session dead and closes the connection, which unblocks
// the reader.
func (s *Session) kill() {
	s.deadOnce.Do(func() {
		close(s.dead)
		s.conn.Close()
	})
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	st := SessionStats{
		ID:            s.ID,
		RemoteAddr:    s.RemoteAddr,
		Realtime:      s.realtime,
		LastSent:      s.lastSent,
		LastHeartbeat: s.lastHeartbeat,
	}
	s.mu.Unlock()

	st.PendingRequests = s.requests.Len()
	st.DroppedRequests = s.requests.Dropped()
	st.Commands = s.commands.Load()
	st.Violations = s.violations.Load()
	st.SamplesSent = s.samplesSent.Load()
	st.RealtimeSkips = s.realtimeSkips.Load()
	st.Injected = s.injected.Load()
	return st
}
