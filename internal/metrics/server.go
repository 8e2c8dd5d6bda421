// Package metrics exposes daemon counters over HTTP.
//
// Two routes are served:
//
//	/metrics  Prometheus text exposition
//	/status   the full snapshot as a JSON document
//
// An empty listen address disables the endpoint entirely.
package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/logging"
)

var log = logging.Component("metrics")

// Config configures the endpoint.
type Config struct {
	// Listen is the HTTP address. Empty disables the endpoint.
	Listen string

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration
}

// Server serves /metrics and /status.
type Server struct {
	cfg      Config
	source   Source
	registry *prometheus.Registry
	router   *mux.Router

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a metrics server reading from source.
func New(cfg Config, source Source) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = config.DefaultMetricsReadTimeout
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		newCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:      cfg,
		source:   source,
		registry: registry,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the Prometheus registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Enabled reports whether a listen address is configured.
func (s *Server) Enabled() bool {
	return s.cfg.Listen != ""
}

// Start binds the listener and serves in the background. It is a no-op when
// the endpoint is disabled.
func (s *Server) Start() error {
	if !s.Enabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "metrics listen %s", s.cfg.Listen)
	}

	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}
	s.running.Store(true)

	s.wg.Add(1)
	go func(srv *http.Server) {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}(s.srv)

	log.Info("metrics endpoint started", "address", ln.Addr().String())
	return nil
}

// Stop shuts the HTTP server down, waiting briefly for in-flight scrapes.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return errors.ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	s.running.Store(false)
	s.ln = nil

	log.Info("metrics endpoint stopped")
	return err
}

// IsRunning reports whether the endpoint is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.source()

	doc, err := structpb.NewStruct(document(&snap))
	if err != nil {
		log.Error("status document", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
