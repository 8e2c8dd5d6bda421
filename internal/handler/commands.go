package handler

import (
	"fmt"

	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage/types"
	"github.com/xtxerr/seisd/internal/wire"
)

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.kill()

	for {
		line, err := s.wire.ReadLine()
		if err == nil {
			err = s.dispatch(line)
		}
		if err == nil {
			continue
		}
		if errors.IsProtocolError(err) {
			s.violations.Add(1)
			log.WarnContext(s.ctx, "protocol violation", "error", err)
			continue
		}

		select {
		case <-s.dead:
		default:
			log.DebugContext(s.ctx, "reader finished", "error", err)
		}
		return
	}
}

// arity is the number of argument lines each command carries.
var arity = map[string]int{
	wire.CmdRealtime:      1,
	wire.CmdGetData:       2,
	wire.CmdHeartbeat:     0,
	wire.CmdDataHourCheck: 2,
	wire.CmdSendData:      2,
}

// dispatch runs one command. All argument lines are consumed before any is
// parsed, so a bad argument drops only its own command. A read failure ends
// the session.
func (s *Session) dispatch(cmd string) error {
	s.commands.Add(1)

	n, ok := arity[cmd]
	if !ok {
		return fmt.Errorf("%q: %w", cmd, errors.ErrUnknownCommand)
	}
	args := make([]string, n)
	for i := range args {
		line, err := s.wire.ReadLine()
		if err != nil {
			return err
		}
		args[i] = line
	}

	switch cmd {
	case wire.CmdRealtime:
		id, err := wire.ParseInt(cmd, args[0], 64)
		if err != nil {
			return err
		}
		s.toggleRealtime(id)

	case wire.CmdGetData:
		first, err := wire.ParseInt(cmd, args[0], 64)
		if err != nil {
			return err
		}
		last, err := wire.ParseInt(cmd, args[1], 64)
		if err != nil {
			return err
		}
		return s.Request(first, last)

	case wire.CmdHeartbeat:
		s.mu.Lock()
		s.lastHeartbeat = s.deps.Clock.Now()
		s.mu.Unlock()

	case wire.CmdDataHourCheck:
		hourID, err := wire.ParseInt(cmd, args[0], 32)
		if err != nil {
			return err
		}
		count, err := wire.ParseInt(cmd, args[1], 64)
		if err != nil {
			return err
		}
		return s.checkHour(int32(hourID), count)

	case wire.CmdSendData:
		value, err := wire.ParseInt(cmd, args[0], 32)
		if err != nil {
			return err
		}
		logID, err := wire.ParseInt(cmd, args[1], 64)
		if err != nil {
			return err
		}
		if !s.deps.Timebase.ValidLogID(logID) {
			return fmt.Errorf("senddata log id %d: %w", logID, errors.ErrInvalidRange)
		}
		if s.deps.Injector != nil {
			s.deps.Injector.Enqueue(types.Sample{LogID: logID, Value: int32(value)})
			s.injected.Add(1)
		}
	}
	return nil
}

// toggleRealtime flips the subscription and sets the bookmark to the last
// log id the client already has. Bookmarks before the timeline start at -1.
func (s *Session) toggleRealtime(lastSeen int64) {
	lastSeen = max(lastSeen, -1)

	s.mu.Lock()
	s.realtime = !s.realtime
	s.lastSent = lastSeen
	on := s.realtime
	s.mu.Unlock()

	log.DebugContext(s.ctx, "realtime toggled", "enabled", on, "from", lastSeen)
	if on {
		s.Signal()
	}
}

// Request queues the inclusive range [first, last] for sending.
func (s *Session) Request(first, last int64) error {
	tb := s.deps.Timebase
	if last < first || !tb.ValidLogID(first) || !tb.ValidLogID(last) {
		return fmt.Errorf("getdata %d..%d: %w", first, last, errors.ErrInvalidRange)
	}
	if last-first > tb.SamplesIn(s.cfg.RequestMaxLength) {
		return fmt.Errorf("getdata %d..%d: %w", first, last, errors.ErrRangeTooLong)
	}

	if err := s.requests.Push(Request{First: first, Last: last}); err != nil {
		log.WarnContext(s.ctx, "request dropped", "first", first, "last", last, "error", err)
		return nil
	}
	s.Signal()
	return nil
}

// checkHour queues the whole hour when the client's sample count differs
// from the stored one. Hours the store has never seen are ignored.
func (s *Session) checkHour(hourID int32, clientCount int64) error {
	count, ok := s.deps.Store.Lookup(hourID, true)
	if !ok || int64(count) == clientCount {
		return nil
	}
	tb := s.deps.Timebase
	return s.Request(tb.FirstLogID(hourID), tb.LastLogID(hourID))
}
