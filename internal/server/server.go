// Package server provides the TCP side of seisd.
//
// The server accepts client connections, keeps the registry of live
// sessions, runs the heartbeat watchdog and fans realtime notifications out
// to subscribed sessions.
package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/handler"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "0.0.0.0:6222").
	Listen string

	// SampleRate is announced to clients on connect.
	SampleRate int

	// Watchdog settings.
	ClientTimeout    time.Duration
	WatchdogInterval time.Duration

	// Session limits.
	Session handler.Config
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = config.DefaultListenAddress
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = config.DefaultClientTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = config.DefaultWatchdogInterval
	}
}

// Stats holds server counters.
type Stats struct {
	Running  bool
	Address  string
	Clients  int
	Accepted int64
	Timeouts int64
	Notifies int64
	Lookups  int64
	Shared   int64
}

// =============================================================================
// Server
// =============================================================================

// Server serves the client protocol.
type Server struct {
	cfg  Config
	deps handler.Deps

	// Lifecycle - protected by mu
	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool

	// Registry - protected by regMu, never held during socket I/O
	regMu    sync.RWMutex
	sessions map[uint64]*handler.Session
	closing  bool

	nextID atomic.Uint64

	// datahour_check lookups of the same hour share one store access.
	lookups singleflight.Group

	accepted atomic.Int64
	timeouts atomic.Int64
	notifies atomic.Int64
	lookupN  atomic.Int64
	shared   atomic.Int64
}

// New creates a server. Nothing is bound until Start.
func New(cfg Config, deps handler.Deps) *Server {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	s := &Server{cfg: cfg, sessions: make(map[uint64]*handler.Session)}
	deps.Store = &sharedLookupStore{Store: deps.Store, srv: s}
	s.deps = deps
	return s
}

// Start binds the listener and starts accepting clients and the watchdog.
// A bind failure is returned and leaves the server not running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.cfg.Listen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel

	s.regMu.Lock()
	s.closing = false
	s.regMu.Unlock()

	s.running.Store(true)

	s.wg.Add(2)
	go s.acceptLoop(ctx, ln)
	go s.watchdog(ctx)

	log.Info("server listening", "address", ln.Addr().String())
	return nil
}

// Stop closes the listener, stops the watchdog and tears down every
// session, in that order.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return errors.ErrNotRunning
	}

	s.listener.Close()
	s.cancel()
	s.wg.Wait()
	s.listener = nil
	s.running.Store(false)

	s.regMu.Lock()
	s.closing = true
	sessions := make([]*handler.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.regMu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}

	log.Info("server stopped", "closed_sessions", len(sessions))
	return nil
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// =============================================================================
// Connection Handling
// =============================================================================

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				log.Error("listener closed", "error", err)
				s.running.Store(false)
				return
			}
			log.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn greets the client and registers its session.
func (s *Server) handleConn(conn net.Conn) {
	id := s.nextID.Add(1)
	sess := handler.NewSession(id, conn, s.deps, s.cfg.Session)

	greeting := wire.Greeting{
		CompatibilityVersion: config.CompatibilityVersion,
		SampleRate:           s.cfg.SampleRate,
		ErrValue:             config.ErrValue,
		LastLogID:            s.deps.Store.LastLogID(),
	}
	if err := sess.Start(greeting); err != nil {
		log.Warn("greeting failed", "remote", conn.RemoteAddr().String(), "error", err)
		sess.Close()
		return
	}
	s.accepted.Add(1)

	s.regMu.Lock()
	if s.closing {
		s.regMu.Unlock()
		sess.Close()
		return
	}
	s.sessions[id] = sess
	count := len(s.sessions)
	s.regMu.Unlock()

	log.Debug("client registered", "client_id", id, "clients", count)
}

// NotifyRealtime wakes the sender of every realtime subscriber.
func (s *Server) NotifyRealtime() {
	s.notifies.Add(1)

	s.regMu.RLock()
	defer s.regMu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Realtime() {
			sess.Signal()
		}
	}
}

// =============================================================================
// Watchdog
// =============================================================================

func (s *Server) watchdog(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.deps.Clock.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one watchdog pass: sessions that are dead or silent for longer
// than the client timeout are removed and closed; the rest are probed.
func (s *Server) Sweep() int {
	now := s.deps.Clock.Now()

	var expired []*handler.Session
	s.regMu.Lock()
	for id, sess := range s.sessions {
		if sess.Expired(now, s.cfg.ClientTimeout) {
			expired = append(expired, sess)
			delete(s.sessions, id)
			continue
		}
		sess.Probe()
	}
	s.regMu.Unlock()

	for _, sess := range expired {
		log.Info("client timeout", "client_id", sess.ID, "remote", sess.RemoteAddr)
		sess.Close()
	}
	s.timeouts.Add(int64(len(expired)))
	return len(expired)
}

// =============================================================================
// Statistics
// =============================================================================

// Count returns the number of registered sessions.
func (s *Server) Count() int {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of every registered session.
func (s *Server) Sessions() []handler.SessionStats {
	s.regMu.RLock()
	list := make([]*handler.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.regMu.RUnlock()

	out := make([]handler.SessionStats, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Stats())
	}
	return out
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Running:  s.running.Load(),
		Address:  s.cfg.Listen,
		Clients:  s.Count(),
		Accepted: s.accepted.Load(),
		Timeouts: s.timeouts.Load(),
		Notifies: s.notifies.Load(),
		Lookups:  s.lookupN.Load(),
		Shared:   s.shared.Load(),
	}
	if addr := s.Addr(); addr != nil {
		st.Address = addr.String()
	}
	return st
}

// ResetStats zeroes the server counters.
func (s *Server) ResetStats() {
	s.accepted.Store(0)
	s.timeouts.Store(0)
	s.notifies.Store(0)
	s.lookupN.Store(0)
	s.shared.Store(0)
}

// =============================================================================
// Shared lookups
// =============================================================================

type lookupResult struct {
	count int32
	ok    bool
}

// sharedLookupStore collapses concurrent Lookup calls for the same hour.
type sharedLookupStore struct {
	handler.Store
	srv *Server
}

func (l *sharedLookupStore) Lookup(hourID int32, allowLoad bool) (int32, bool) {
	key := strconv.FormatInt(int64(hourID), 10) + ":" + strconv.FormatBool(allowLoad)
	v, _, shared := l.srv.lookups.Do(key, func() (any, error) {
		count, ok := l.Store.Lookup(hourID, allowLoad)
		return lookupResult{count: count, ok: ok}, nil
	})
	l.srv.lookupN.Add(1)
	if shared {
		l.srv.shared.Add(1)
	}
	r := v.(lookupResult)
	return r.count, r.ok
}
