package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/storage/bucket"
	"github.com/xtxerr/seisd/internal/storage/config"
	"github.com/xtxerr/seisd/internal/storage/retention"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var log = logging.Component("store")

// cacheRef is a shortcut to a resident bucket by hour id.
type cacheRef struct {
	hourID int32
	ok     bool
}

func (c *cacheRef) set(hourID int32) { c.hourID, c.ok = hourID, true }

func (c *cacheRef) clearIf(hourID int32) {
	if c.ok && c.hourID == hourID {
		c.ok = false
	}
}

// Store is the hour-bucketed sample store.
type Store struct {
	mu sync.Mutex

	config *config.Config
	tb     types.Timebase
	layout bucket.Layout
	clock  clock.Clock
	policy *retention.Policy

	// Guarded by mu.
	buckets   map[int32]*bucket.Bucket
	current   cacheRef // last written
	last      cacheRef // last read or written
	lastLogID int64

	// State
	running atomic.Bool

	// Statistics
	loaded     atomic.Int64
	created    atomic.Int64
	saved      atomic.Int64
	evicted    atomic.Int64
	saveErrors atomic.Int64
	corrupt    atomic.Int64
	rejected   atomic.Int64
	cacheHits  atomic.Int64
}

// Stats holds store statistics.
type Stats struct {
	Resident   int
	Dirty      int
	LastLogID  int64
	Loaded     int64
	Created    int64
	Saved      int64
	Evicted    int64
	SaveErrors int64
	Corrupt    int64
	Rejected   int64
	CacheHits  int64
}

// Options configures a Store.
type Options struct {
	// Clock defaults to the real clock.
	Clock clock.Clock
}

// New creates a store. Nothing is read from disk until the first access
// or Warm.
func New(cfg *config.Config, opts Options) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rate, err := types.ParseSampleRate(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	tb := types.NewTimebase(rate)
	return &Store{
		config:    cfg,
		tb:        tb,
		layout:    bucket.Layout{Root: cfg.DataDir, Timebase: tb, Location: loc},
		clock:     opts.Clock,
		policy:    retention.New(cfg.Retention),
		buckets:   make(map[int32]*bucket.Bucket),
		lastLogID: -1,
	}, nil
}

// Timebase returns the store's timebase.
func (s *Store) Timebase() types.Timebase { return s.tb }

// Layout returns the bucket file layout.
func (s *Store) Layout() bucket.Layout { return s.layout }

// Get returns the value at logID, loading or creating its bucket. Log ids
// off the timeline read as the sentinel.
func (s *Store) Get(logID int64) int32 {
	if !s.tb.ValidLogID(logID) {
		return types.Sentinel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookupOrLoad(s.tb.HourID(logID), true, true)
	b.Touch(s.clock.Now())
	return b.Get(s.tb.SlotIndex(logID))
}

// Put stores value at logID.
func (s *Store) Put(logID int64, value int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(logID, value, s.clock.Now())
}

// PutBatch stores samples in order under one lock acquisition.
func (s *Store) PutBatch(samples []types.Sample) {
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, sm := range samples {
		s.put(sm.LogID, sm.Value, now)
	}
}

// put must be called with mu held. Log ids off the timeline are dropped.
func (s *Store) put(logID int64, value int32, now time.Time) {
	if !s.tb.ValidLogID(logID) {
		s.rejected.Add(1)
		log.Warn("sample outside timeline dropped", "log_id", logID)
		return
	}
	hourID := s.tb.HourID(logID)
	b := s.lookupOrLoad(hourID, true, true)
	b.Put(s.tb.SlotIndex(logID), value)
	b.Touch(now)
	s.current.set(hourID)
	if logID > s.lastLogID {
		s.lastLogID = logID
	}
}

// LastLogID returns the newest log id written, or -1 if none.
func (s *Store) LastLogID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLogID
}

// Lookup returns the sample count of hourID's bucket. With allowLoad the
// bucket may be read from disk; a blank bucket is never created.
func (s *Store) Lookup(hourID int32, allowLoad bool) (count int32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookupOrLoad(hourID, allowLoad, false)
	if b == nil {
		return 0, false
	}
	b.Touch(s.clock.Now())
	return b.Count(), true
}

// Range collects up to limit data-bearing samples of [first, last] in log
// id order. next is the first log id not yet examined; the range is
// exhausted when next > last. Hours with no resident or persisted bucket
// are skipped without creating one. The parts of the range off the
// timeline hold no data. last must be below math.MaxInt64.
func (s *Store) Range(first, last int64, limit int) (samples []types.Sample, next int64) {
	if first > last || limit <= 0 {
		return nil, first
	}
	if last < 0 || first > s.tb.MaxLogID() {
		return nil, last + 1
	}
	first = max(first, 0)
	last = min(last, s.tb.MaxLogID())

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	capacity := limit
	if span := last - first; span < int64(limit) {
		capacity = int(span + 1)
	}
	samples = make([]types.Sample, 0, capacity)
	next = first

	for next <= last && len(samples) < limit {
		hourID := s.tb.HourID(next)
		hourLast := s.tb.LastLogID(hourID)
		stop := min(last, hourLast)

		b := s.lookupOrLoad(hourID, true, false)
		if b == nil {
			next = stop + 1
			continue
		}
		b.Touch(now)

		base := s.tb.FirstLogID(hourID)
		from := s.tb.SlotIndex(next)
		to := s.tb.SlotIndex(stop)
		next = stop + 1
		b.Each(from, to, func(slot int, v int32) bool {
			if len(samples) == limit {
				next = base + int64(slot)
				return false
			}
			samples = append(samples, types.Sample{LogID: base + int64(slot), Value: v})
			return true
		})
	}
	return samples, next
}

// ScanHour returns the data-bearing samples of hourID in log id order
// without changing the working set. A resident bucket is copied under the
// lock; otherwise the file is read and decoded but not cached, and no
// access time is updated.
func (s *Store) ScanHour(hourID int32) []types.Sample {
	if hourID < 0 || hourID == math.MaxInt32 {
		return nil
	}

	s.mu.Lock()
	b, ok := s.buckets[hourID]
	if ok {
		samples := s.samplesOf(b)
		s.mu.Unlock()
		return samples
	}
	s.mu.Unlock()

	if b = s.load(hourID); b == nil {
		return nil
	}
	return s.samplesOf(b)
}

func (s *Store) samplesOf(b *bucket.Bucket) []types.Sample {
	base := s.tb.FirstLogID(b.HourID())
	samples := make([]types.Sample, 0, b.Count())
	b.Each(0, b.Slots()-1, func(slot int, v int32) bool {
		samples = append(samples, types.Sample{LogID: base + int64(slot), Value: v})
		return true
	})
	return samples
}

// lookupOrLoad resolves the bucket of hourID. It must be called with mu held.
func (s *Store) lookupOrLoad(hourID int32, allowLoad, allowCreate bool) *bucket.Bucket {
	if (s.current.ok && s.current.hourID == hourID) || (s.last.ok && s.last.hourID == hourID) {
		if b, ok := s.buckets[hourID]; ok {
			s.cacheHits.Add(1)
			s.last.set(hourID)
			return b
		}
	}

	if b, ok := s.buckets[hourID]; ok {
		s.last.set(hourID)
		return b
	}

	var b *bucket.Bucket
	if allowLoad {
		b = s.load(hourID)
	}
	if b == nil && allowCreate {
		b = bucket.New(hourID, s.tb.SamplesPerHour())
		s.created.Add(1)
	}
	if b == nil {
		return nil
	}

	s.buckets[hourID] = b
	s.last.set(hourID)
	return b
}

// load reads hourID's file. Missing files return nil quietly; unreadable
// or corrupt files are logged and return nil.
func (s *Store) load(hourID int32) *bucket.Bucket {
	path := s.layout.Path(hourID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("bucket read failed", "hour_id", hourID, "path", path, "error", err)
		}
		return nil
	}

	b, err := bucket.Decode(data, hourID, s.tb.SamplesPerHour())
	if err != nil {
		s.corrupt.Add(1)
		log.Warn("bucket discarded", "hour_id", hourID, "path", path, "error", err)
		return nil
	}

	s.loaded.Add(1)
	log.Debug("bucket loaded", "hour_id", hourID, "samples", b.Count())
	return b
}

// Autosave writes every dirty bucket. Failed buckets stay dirty and are
// retried on the next call.
func (s *Store) Autosave() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAll()
}

// saveAll must be called with mu held.
func (s *Store) saveAll() (int, error) {
	var (
		saved    int
		firstErr error
	)
	for hourID, b := range s.buckets {
		if !b.Dirty() {
			continue
		}
		if err := s.save(b); err != nil {
			s.saveErrors.Add(1)
			log.Error("bucket save failed", "hour_id", hourID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		b.MarkClean()
		saved++
	}
	s.saved.Add(int64(saved))
	return saved, firstErr
}

// save writes b to a temporary file and renames it into place.
func (s *Store) save(b *bucket.Bucket) error {
	path := s.layout.Path(b.HourID())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(b.Encode()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Evict drops idle buckets outside the hot window. Dirty buckets are kept
// until a save succeeds.
func (s *Store) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	candidates := make([]retention.Candidate, 0, len(s.buckets))
	for hourID, b := range s.buckets {
		candidates = append(candidates, retention.Candidate{
			HourID:     hourID,
			LastAccess: b.LastAccess(),
			Dirty:      b.Dirty(),
		})
	}

	r := s.policy.Evaluate(now, s.tb.HourAt(now), candidates)
	for _, hourID := range r.Evict {
		delete(s.buckets, hourID)
		s.current.clearIf(hourID)
		s.last.clearIf(hourID)
	}
	if len(r.Evict) > 0 {
		s.evicted.Add(int64(len(r.Evict)))
		log.Debug("buckets evicted", "count", len(r.Evict), "resident", len(s.buckets))
	}
	return len(r.Evict)
}

// Warm loads the hot window ending at the current hour, creating blank
// buckets for hours without a file, and restores LastLogID from the newest
// data found.
func (s *Store) Warm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	first, last := s.policy.HotWindow(s.tb.HourAt(now))
	for h := first; h <= last; h++ {
		b := s.lookupOrLoad(h, true, true)
		b.Touch(now)
		base := s.tb.FirstLogID(h)
		b.Each(0, b.Slots()-1, func(slot int, _ int32) bool {
			if id := base + int64(slot); id > s.lastLogID {
				s.lastLogID = id
			}
			return true
		})
	}
	log.Info("store warmed", "first_hour", first, "last_hour", last, "last_log_id", s.lastLogID)
}

// Cycle runs one autosave followed by one eviction.
func (s *Store) Cycle() {
	if _, err := s.Autosave(); err != nil {
		log.Warn("autosave incomplete", "error", err)
	}
	s.Evict()
}

// Run executes Cycle every autosave interval until ctx is cancelled.
// A started cycle always completes.
func (s *Store) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ticker := s.clock.NewTicker(s.config.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Cycle()
		}
	}
}

// Close saves every dirty bucket and drops the working set.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.saveAll()
	log.Info("store flushed", "saved", saved, "resident", len(s.buckets))

	s.buckets = make(map[int32]*bucket.Bucket)
	s.current = cacheRef{}
	s.last = cacheRef{}
	return err
}

// Resident reports whether hourID's bucket is in memory.
func (s *Store) Resident(hourID int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[hourID]
	return ok
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	resident := len(s.buckets)
	dirty := 0
	for _, b := range s.buckets {
		if b.Dirty() {
			dirty++
		}
	}
	lastLogID := s.lastLogID
	s.mu.Unlock()

	return Stats{
		Resident:   resident,
		Dirty:      dirty,
		LastLogID:  lastLogID,
		Loaded:     s.loaded.Load(),
		Created:    s.created.Load(),
		Saved:      s.saved.Load(),
		Evicted:    s.evicted.Load(),
		SaveErrors: s.saveErrors.Load(),
		Corrupt:    s.corrupt.Load(),
		Rejected:   s.rejected.Load(),
		CacheHits:  s.cacheHits.Load(),
	}
}

// Retention returns the eviction policy statistics.
func (s *Store) Retention() retention.Stats {
	return s.policy.Stats()
}

// ResetStats zeroes the counters. Resident and dirty counts are live values.
func (s *Store) ResetStats() {
	s.loaded.Store(0)
	s.created.Store(0)
	s.saved.Store(0)
	s.evicted.Store(0)
	s.saveErrors.Store(0)
	s.corrupt.Store(0)
	s.rejected.Store(0)
	s.cacheHits.Store(0)
	s.policy.ResetStats()
}
