package handler

import (
	"github.com/xtxerr/seisd/internal/wire"
)

// flushThreshold is how many buffered bytes trigger a write mid-range.
const flushThreshold = 2048

func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.wake:
		case <-s.dead:
			return
		}
		if !s.Alive() {
			return
		}

		if err := s.service(); err != nil {
			select {
			case <-s.dead:
			default:
				log.WarnContext(s.ctx, "send failed", "error", err)
			}
			s.kill()
			return
		}
	}
}

// service performs one sender pass: heartbeat probe, realtime push, one
// chunk of historical data.
func (s *Session) service() error {
	s.mu.Lock()
	probe := s.probe
	s.probe = false
	s.mu.Unlock()

	if probe {
		s.wire.Line(wire.CmdHeartbeat)
		if err := s.wire.Flush(); err != nil {
			return err
		}
	}

	if err := s.sendRealtime(); err != nil {
		return err
	}
	return s.sendRequests()
}

func (s *Session) sendRealtime() error {
	s.mu.Lock()
	if !s.realtime {
		s.mu.Unlock()
		return nil
	}
	from := s.lastSent
	s.mu.Unlock()

	last := s.deps.Store.LastLogID()
	if from >= last {
		return nil
	}
	if last-from > s.deps.Timebase.SamplesIn(s.cfg.RealtimeMaxGap) {
		from = last - 1
		s.realtimeSkips.Add(1)
	}

	if err := s.sendRange(wire.HeaderRealtime, from+1, last); err != nil {
		return err
	}

	s.mu.Lock()
	if s.lastSent < last {
		s.lastSent = last
	}
	s.mu.Unlock()
	return nil
}

// sendRequests sends up to one chunk worth of log ids from the oldest
// requests. When data remains the sender wakes itself again so realtime
// traffic gets a turn in between.
func (s *Session) sendRequests() error {
	budget := s.deps.Timebase.SamplesIn(s.cfg.RequestChunk)
	if budget < 1 {
		budget = 1
	}

	for budget > 0 {
		req, ok := s.requests.Peek()
		if !ok {
			return nil
		}

		n := min(req.Last-req.First+1, budget)
		end := req.First + n - 1
		if err := s.sendRange(wire.HeaderLogs, req.First, end); err != nil {
			return err
		}
		s.requests.Advance(end + 1)
		budget -= n
	}

	if s.requests.Len() > 0 {
		s.Signal()
	}
	return nil
}

// sendRange writes one data block for [first, last].
func (s *Session) sendRange(header string, first, last int64) error {
	s.wire.Line(header)

	next := first
	for next <= last {
		batch, n := s.deps.Store.Range(next, last, s.cfg.SendBatchSize)
		s.wire.Samples(batch)
		s.samplesSent.Add(int64(len(batch)))
		next = n

		if s.wire.Buffered() >= flushThreshold {
			if err := s.wire.Flush(); err != nil {
				return err
			}
		}
	}

	s.wire.Terminator()
	return s.wire.Flush()
}
