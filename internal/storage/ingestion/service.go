// Package ingestion implements the pipeline between sample producers (the
// sensor link and injecting clients) and the store. Producers enqueue into
// a ring buffer; a single consumer goroutine drains it into the store and
// announces new data to realtime subscribers.
package ingestion

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/storage/buffer"
	"github.com/xtxerr/seisd/internal/storage/config"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var log = logging.Component("ingestion")

// Sink receives drained batches. The store implements it.
type Sink interface {
	PutBatch(samples []types.Sample)
}

// Service orchestrates the sample ingestion pipeline.
// It manages the flow: Enqueue → RingBuffer → consumer → Sink → notify
type Service struct {
	buffer *buffer.RingBuffer
	sink   Sink
	notify func()

	// Producer side
	enqMu        sync.Mutex
	lastEnqueued int64
	hasLast      bool

	// Consumer wake-up. One slot; posts coalesce.
	wake chan struct{}

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats
}

// Stats holds ingestion statistics.
type Stats struct {
	SamplesReceived atomic.Int64
	SamplesApplied  atomic.Int64
	Overflows       atomic.Int64
	Gaps            atomic.Int64
	Batches         atomic.Int64
}

// Options configures a Service.
type Options struct {
	// Notify is called after every applied batch. Optional.
	Notify func()
}

// New creates a new ingestion service writing into sink.
func New(cfg config.IngestionConfig, sink Sink, opts Options) *Service {
	notify := opts.Notify
	if notify == nil {
		notify = func() {}
	}
	return &Service{
		buffer: buffer.New(cfg.QueueCapacity),
		sink:   sink,
		notify: notify,
		wake:   make(chan struct{}, 1),
	}
}

// SetNotifier replaces the post-batch callback. It must be called before Start.
func (s *Service) SetNotifier(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	s.notify = fn
}

// Start launches the consumer goroutine.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.consume()

	log.Info("ingestion started", "capacity", s.buffer.Cap())
	return nil
}

// Stop stops the consumer after a final drain and waits for it to exit.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	log.Info("ingestion stopped", "applied", s.stats.SamplesApplied.Load())
	return nil
}

// Enqueue hands one sample to the pipeline. It never blocks on the store;
// when the buffer is full the oldest pending sample is dropped.
func (s *Service) Enqueue(sample types.Sample) {
	s.enqMu.Lock()
	if s.hasLast && sample.LogID > s.lastEnqueued+1 {
		s.stats.Gaps.Add(1)
	}
	if !s.hasLast || sample.LogID > s.lastEnqueued {
		s.lastEnqueued = sample.LogID
		s.hasLast = true
	}
	overflowed := s.buffer.Push(sample)
	s.enqMu.Unlock()

	s.stats.SamplesReceived.Add(1)
	if overflowed {
		n := s.stats.Overflows.Add(1)
		log.Warn("ingestion queue overflow, oldest sample dropped",
			"log_id", sample.LogID, "overflows", n)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// consume is the single consumer goroutine.
func (s *Service) consume() {
	defer s.wg.Done()

	batch := make([]types.Sample, 0, 256)
	for {
		select {
		case <-s.ctx.Done():
			s.drain(batch[:0])
			return
		case <-s.wake:
			batch = s.drain(batch[:0])
		}
	}
}

// drain moves everything pending into the sink. A drain always completes.
func (s *Service) drain(batch []types.Sample) []types.Sample {
	batch = s.buffer.Drain(batch)
	if len(batch) == 0 {
		return batch
	}

	s.sink.PutBatch(batch)
	s.stats.SamplesApplied.Add(int64(len(batch)))
	s.stats.Batches.Add(1)
	s.notify()
	return batch
}

// Flush drains synchronously from the calling goroutine. Used at shutdown
// when the consumer is not running.
func (s *Service) Flush() int {
	return len(s.drain(nil))
}

// ResetStats zeroes the counters and the queue high-water mark.
func (s *Service) ResetStats() {
	s.stats.SamplesReceived.Store(0)
	s.stats.SamplesApplied.Store(0)
	s.stats.Overflows.Store(0)
	s.stats.Gaps.Store(0)
	s.stats.Batches.Store(0)
	s.buffer.ResetStats()
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	bufferStats := s.buffer.Stats()

	return ServiceStats{
		Running:         s.running.Load(),
		SamplesReceived: s.stats.SamplesReceived.Load(),
		SamplesApplied:  s.stats.SamplesApplied.Load(),
		Overflows:       s.stats.Overflows.Load(),
		Gaps:            s.stats.Gaps.Load(),
		Batches:         s.stats.Batches.Load(),
		QueueDepth:      bufferStats.Count,
		QueueMaxDepth:   bufferStats.MaxDepth,
		QueueCapacity:   bufferStats.Capacity,
		QueueUsage:      bufferStats.UsageRatio,
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running         bool
	SamplesReceived int64
	SamplesApplied  int64
	Overflows       int64
	Gaps            int64
	Batches         int64
	QueueDepth      int
	QueueMaxDepth   int
	QueueCapacity   int
	QueueUsage      float64
}

// Buffer returns the ring buffer.
func (s *Service) Buffer() *buffer.RingBuffer {
	return s.buffer
}

// IsRunning returns whether the consumer is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
