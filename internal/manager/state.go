package manager

import (
	"sync"
	"time"

	"github.com/xtxerr/seisd/internal/clock"
)

// =============================================================================
// Admin and Operational State Constants
// =============================================================================

const (
	// AdminStateEnabled means the operator (or config) wants the subsystem up.
	AdminStateEnabled = "enabled"

	// AdminStateDisabled means the subsystem was closed on purpose.
	AdminStateDisabled = "disabled"
)

const (
	// OperStateStopped indicates the subsystem is not running.
	OperStateStopped = "stopped"

	// OperStateRunning indicates the subsystem is running.
	OperStateRunning = "running"
)

const (
	// HealthStateUnknown indicates the subsystem was never opened.
	HealthStateUnknown = "unknown"

	// HealthStateUp indicates the last open succeeded and it is still running.
	HealthStateUp = "up"

	// HealthStateDegraded indicates an open failed once.
	HealthStateDegraded = "degraded"

	// HealthStateDown indicates repeated open failures, or a subsystem that
	// is enabled but stopped on its own (unplugged sensor).
	HealthStateDown = "down"
)

// =============================================================================
// SubsystemState
// =============================================================================

// SubsystemState tracks the operator intent and open history of one
// switchable subsystem (the serial link or the client server). The running
// flag itself is owned by the subsystem and passed in when reading.
//
// SubsystemState is safe for concurrent use.
type SubsystemState struct {
	Name string

	clock clock.Clock

	mu                  sync.RWMutex
	adminState          string
	lastError           string
	consecutiveFailures int
	opens               int64
	lastOpenAt          time.Time
	lastFailureAt       time.Time
	lastCloseAt         time.Time
}

// StateInfo is a snapshot of a SubsystemState.
type StateInfo struct {
	Name                string
	Admin               string
	Oper                string
	Health              string
	LastError           string
	ConsecutiveFailures int
	Opens               int64
	LastOpenAt          time.Time
	LastFailureAt       time.Time
	LastCloseAt         time.Time
}

// NewSubsystemState creates a disabled state.
func NewSubsystemState(name string, clk clock.Clock) *SubsystemState {
	if clk == nil {
		clk = clock.Real()
	}
	return &SubsystemState{
		Name:       name,
		clock:      clk,
		adminState: AdminStateDisabled,
	}
}

// RecordOpen records a successful open.
func (s *SubsystemState) RecordOpen() {
	now := s.clock.Now()
	s.mu.Lock()
	s.adminState = AdminStateEnabled
	s.opens++
	s.lastOpenAt = now
	s.consecutiveFailures = 0
	s.lastError = ""
	s.mu.Unlock()
}

// RecordFailure records a failed open. The subsystem stays enabled: the
// operator asked for it.
func (s *SubsystemState) RecordFailure(err error) {
	now := s.clock.Now()
	s.mu.Lock()
	s.adminState = AdminStateEnabled
	s.lastFailureAt = now
	s.consecutiveFailures++
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

// RecordClose records an operator close.
func (s *SubsystemState) RecordClose() {
	now := s.clock.Now()
	s.mu.Lock()
	s.adminState = AdminStateDisabled
	s.lastCloseAt = now
	s.mu.Unlock()
}

// Info returns a snapshot. running is the subsystem's own flag.
func (s *SubsystemState) Info(running bool) StateInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := StateInfo{
		Name:                s.Name,
		Admin:               s.adminState,
		Oper:                OperStateStopped,
		LastError:           s.lastError,
		ConsecutiveFailures: s.consecutiveFailures,
		Opens:               s.opens,
		LastOpenAt:          s.lastOpenAt,
		LastFailureAt:       s.lastFailureAt,
		LastCloseAt:         s.lastCloseAt,
	}
	if running {
		info.Oper = OperStateRunning
	}

	switch {
	case running:
		info.Health = HealthStateUp
	case s.adminState == AdminStateDisabled:
		info.Health = HealthStateUnknown
	case s.consecutiveFailures == 1:
		info.Health = HealthStateDegraded
	default:
		info.Health = HealthStateDown
	}
	return info
}
