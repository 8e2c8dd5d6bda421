package metrics

import (
	"time"

	"github.com/xtxerr/seisd/internal/handler"
	"github.com/xtxerr/seisd/internal/link"
	"github.com/xtxerr/seisd/internal/server"
	"github.com/xtxerr/seisd/internal/storage"
	"github.com/xtxerr/seisd/internal/storage/ingestion"
)

// Snapshot is one consistent-enough view of every subsystem's counters.
// Each section is read under its own subsystem's lock, not atomically
// across subsystems.
type Snapshot struct {
	Version    string
	SampleRate int
	Started    time.Time
	Taken      time.Time

	Store      storage.Stats
	Ingestion  ingestion.ServiceStats
	Link       link.ReaderStats
	Controller link.ControllerStats
	Server     server.Stats
	Sessions   []handler.SessionStats
}

// Uptime is the time between Started and Taken.
func (s *Snapshot) Uptime() time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	return s.Taken.Sub(s.Started)
}

// Source produces a snapshot on demand.
type Source func() Snapshot

// document flattens a snapshot into the generic map behind /status.
func document(s *Snapshot) map[string]any {
	sessions := make([]any, 0, len(s.Sessions))
	for _, ss := range s.Sessions {
		sessions = append(sessions, map[string]any{
			"id":               ss.ID,
			"remote_addr":      ss.RemoteAddr,
			"realtime":         ss.Realtime,
			"last_sent":        ss.LastSent,
			"last_heartbeat":   ss.LastHeartbeat.UTC().Format(time.RFC3339),
			"pending_requests": ss.PendingRequests,
			"dropped_requests": ss.DroppedRequests,
			"commands":         ss.Commands,
			"violations":       ss.Violations,
			"samples_sent":     ss.SamplesSent,
		})
	}

	return map[string]any{
		"version":        s.Version,
		"sample_rate":    s.SampleRate,
		"uptime_seconds": s.Uptime().Seconds(),
		"store": map[string]any{
			"resident":    s.Store.Resident,
			"dirty":       s.Store.Dirty,
			"last_log_id": s.Store.LastLogID,
			"loaded":      s.Store.Loaded,
			"created":     s.Store.Created,
			"saved":       s.Store.Saved,
			"evicted":     s.Store.Evicted,
			"save_errors": s.Store.SaveErrors,
			"corrupt":     s.Store.Corrupt,
			"rejected":    s.Store.Rejected,
		},
		"ingestion": map[string]any{
			"running":         s.Ingestion.Running,
			"received":        s.Ingestion.SamplesReceived,
			"applied":         s.Ingestion.SamplesApplied,
			"overflows":       s.Ingestion.Overflows,
			"gaps":            s.Ingestion.Gaps,
			"queue_depth":     s.Ingestion.QueueDepth,
			"queue_max_depth": s.Ingestion.QueueMaxDepth,
			"queue_capacity":  s.Ingestion.QueueCapacity,
		},
		"link": map[string]any{
			"running":     s.Link.Running,
			"device":      s.Link.Device,
			"lines":       s.Link.Lines,
			"malformed":   s.Link.Malformed,
			"calibrating": s.Controller.Calibrating,
			"frames":      s.Controller.Frames,
			"link_gaps":   s.Controller.LinkGaps,
			"pulses":      s.Controller.Pulses,
			"drift_us": map[string]any{
				"current": s.Controller.LastAvgUs,
				"min":     s.Controller.Drift.Min,
				"max":     s.Controller.Drift.Max,
				"p50":     s.Controller.Drift.P50,
				"p99":     s.Controller.Drift.P99,
			},
		},
		"server": map[string]any{
			"running":  s.Server.Running,
			"address":  s.Server.Address,
			"clients":  s.Server.Clients,
			"accepted": s.Server.Accepted,
			"timeouts": s.Server.Timeouts,
		},
		"sessions": sessions,
	}
}
