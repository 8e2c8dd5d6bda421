// Package client provides a client for the seisd text protocol.
//
// A Client connects, validates the server greeting and then reads data
// blocks in a background loop, handing each to the OnBlock callback.
// Heartbeat probes are answered automatically unless disabled.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/storage/types"
	"github.com/xtxerr/seisd/internal/wire"
)

// =============================================================================
// State Machine Definition
// =============================================================================

// ClientState represents the connection state of a client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from ClientState
	to   ClientState
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	{StateDisconnected, StateConnecting}: true,
	{StateDisconnected, StateClosed}:     true,

	{StateConnecting, StateConnected}:    true,
	{StateConnecting, StateDisconnected}: true,

	{StateConnected, StateDisconnected}: true,
	{StateConnected, StateClosing}:      true,

	{StateClosing, StateClosed}: true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed  = errors.New("client is closed")
	ErrNotConnected  = errors.New("not connected")
	ErrIncompatible  = errors.New("incompatible server")
	ErrUnexpectedMsg = errors.New("unexpected message")
)

// =============================================================================
// Client
// =============================================================================

// Block is one data block received from the server.
type Block struct {
	Header  string
	Samples []types.Sample
}

// Realtime reports whether the block came from the live feed.
func (b Block) Realtime() bool { return b.Header == wire.HeaderRealtime }

// Config holds client configuration.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// IgnoreHeartbeats disables automatic answers to heartbeat probes.
	IgnoreHeartbeats bool
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "localhost:6222",
		ConnectTimeout: 30 * time.Second,
		WriteTimeout:   config.DefaultWriteTimeout,
	}
}

// Client connects to a seisd server.
type Client struct {
	cfg Config

	// Connection - protected by mu
	mu       sync.Mutex
	conn     net.Conn
	wire     *wire.Conn
	greeting wire.Greeting

	state atomic.Int32

	// Callbacks - protected by cbMu
	cbMu         sync.RWMutex
	onBlock      func(Block)
	onDisconnect func(error)

	probes atomic.Int64
	done   chan struct{}
}

// New creates a new client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{cfg: *cfg}
	if c.cfg.ConnectTimeout <= 0 {
		c.cfg.ConnectTimeout = 30 * time.Second
	}
	return c
}

func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) transitionFrom(from, to ClientState) bool {
	if !validTransitions[stateTransition{from: from, to: to}] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// =============================================================================
// Connection Management
// =============================================================================

// Connect dials the server, reads the greeting and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.getState() == StateClosed {
		return ErrClientClosed
	}
	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	success := false
	defer func() {
		if !success {
			c.transitionFrom(StateConnecting, StateDisconnected)
		}
	}()

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	w := wire.NewConn(conn, 0, c.cfg.WriteTimeout)

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	g, err := w.ReadGreeting()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("read greeting: %w", err)
	}
	if g.CompatibilityVersion != config.CompatibilityVersion {
		conn.Close()
		return fmt.Errorf("%w: compatibility version %d, want %d",
			ErrIncompatible, g.CompatibilityVersion, config.CompatibilityVersion)
	}

	c.mu.Lock()
	c.conn = conn
	c.wire = w
	c.greeting = g
	c.done = make(chan struct{})
	c.mu.Unlock()

	if !c.transitionFrom(StateConnecting, StateConnected) {
		conn.Close()
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}
	success = true

	go c.readLoop(w, c.done)
	return nil
}

// Close closes the connection permanently and waits for the read loop.
func (c *Client) Close() error {
	switch {
	case c.transitionFrom(StateDisconnected, StateClosed):
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	case c.transitionFrom(StateConnected, StateClosing):
	default:
		return nil
	}

	c.mu.Lock()
	conn, done := c.conn, c.done
	c.mu.Unlock()

	err := conn.Close()
	<-done
	c.transitionFrom(StateClosing, StateClosed)
	return err
}

// =============================================================================
// State Queries
// =============================================================================

// Greeting returns the greeting the server sent on connect.
func (c *Client) Greeting() wire.Greeting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeting
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// State returns the current state as a string.
func (c *Client) State() string {
	return c.getState().String()
}

// Probes returns how many heartbeat probes the server sent.
func (c *Client) Probes() int64 {
	return c.probes.Load()
}

// =============================================================================
// Callbacks
// =============================================================================

// OnBlock sets the handler for received data blocks. It runs on the read
// loop goroutine.
func (c *Client) OnBlock(fn func(Block)) {
	c.cbMu.Lock()
	c.onBlock = fn
	c.cbMu.Unlock()
}

// OnDisconnect sets the handler for an unexpected disconnection.
func (c *Client) OnDisconnect(fn func(error)) {
	c.cbMu.Lock()
	c.onDisconnect = fn
	c.cbMu.Unlock()
}

// =============================================================================
// Commands
// =============================================================================

// Realtime toggles the live feed. lastSeen is the newest log id the caller
// already has.
func (c *Client) Realtime(lastSeen int64) error {
	return c.send(wire.CmdRealtime, itoa(lastSeen))
}

// GetData requests the inclusive range [first, last].
func (c *Client) GetData(first, last int64) error {
	return c.send(wire.CmdGetData, itoa(first), itoa(last))
}

// Heartbeat refreshes the server-side liveness timer.
func (c *Client) Heartbeat() error {
	return c.send(wire.CmdHeartbeat)
}

// DataHourCheck asks the server to resend hourID if its sample count
// differs from count.
func (c *Client) DataHourCheck(hourID int32, count int64) error {
	return c.send(wire.CmdDataHourCheck, itoa(int64(hourID)), itoa(count))
}

// SendData injects one sample into the server's pipeline.
func (c *Client) SendData(value int32, logID int64) error {
	return c.send(wire.CmdSendData, itoa(int64(value)), itoa(logID))
}

func (c *Client) send(lines ...string) error {
	if c.getState() != StateConnected {
		return ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range lines {
		c.wire.Line(l)
	}
	return c.wire.Flush()
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// =============================================================================
// Read Loop
// =============================================================================

func (c *Client) readLoop(w *wire.Conn, done chan struct{}) {
	err := c.read(w)
	close(done)

	if !c.transitionFrom(StateConnected, StateDisconnected) {
		return
	}

	c.mu.Lock()
	c.conn.Close()
	c.mu.Unlock()

	c.cbMu.RLock()
	fn := c.onDisconnect
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) read(w *wire.Conn) error {
	for {
		line, err := w.ReadLine()
		if err != nil {
			return err
		}

		switch line {
		case wire.CmdHeartbeat:
			c.probes.Add(1)
			if !c.cfg.IgnoreHeartbeats {
				if err := c.send(wire.CmdHeartbeat); err != nil {
					return err
				}
			}

		case wire.HeaderRealtime, wire.HeaderLogs:
			b, err := readBlock(w, line)
			if err != nil {
				return err
			}
			c.cbMu.RLock()
			fn := c.onBlock
			c.cbMu.RUnlock()
			if fn != nil {
				fn(b)
			}

		default:
			return fmt.Errorf("%w: %q", ErrUnexpectedMsg, line)
		}
	}
}

// readBlock reads value/log id pairs up to the sentinel terminator.
func readBlock(w *wire.Conn, header string) (Block, error) {
	b := Block{Header: header}
	for {
		v, err := w.ReadInt(header, 32)
		if err != nil {
			return b, err
		}
		if int32(v) == types.Sentinel {
			return b, nil
		}
		id, err := w.ReadInt(header, 64)
		if err != nil {
			return b, err
		}
		b.Samples = append(b.Samples, types.Sample{LogID: id, Value: int32(v)})
	}
}
