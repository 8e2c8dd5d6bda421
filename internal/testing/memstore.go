package testing

import (
	"slices"
	"sync"

	"github.com/xtxerr/seisd/internal/storage/types"
)

// MemStore is an in-memory sample store for protocol tests. It also
// accepts injected samples.
type MemStore struct {
	mu       sync.Mutex
	tb       types.Timebase
	data     map[int64]int32
	last     int64
	injected []types.Sample
}

// NewMemStore creates an empty store.
func NewMemStore(tb types.Timebase) *MemStore {
	return &MemStore{tb: tb, data: make(map[int64]int32), last: -1}
}

// Timebase returns the store's timebase.
func (m *MemStore) Timebase() types.Timebase { return m.tb }

// Put stores one sample.
func (m *MemStore) Put(logID int64, value int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(logID, value)
}

// PutBatch stores samples in order.
func (m *MemStore) PutBatch(samples []types.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		m.put(s.LogID, s.Value)
	}
}

func (m *MemStore) put(logID int64, value int32) {
	m.data[logID] = value
	if logID > m.last {
		m.last = logID
	}
}

// Enqueue records and stores an injected sample.
func (m *MemStore) Enqueue(s types.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.injected = append(m.injected, s)
	m.put(s.LogID, s.Value)
}

// Injected returns the samples passed to Enqueue.
func (m *MemStore) Injected() []types.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.injected)
}

// LastLogID returns the highest stored log id, or -1.
func (m *MemStore) LastLogID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Range returns up to limit stored samples of [first, last] in log id order.
func (m *MemStore) Range(first, last int64, limit int) ([]types.Sample, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.data))
	for id := range m.data {
		if id >= first && id <= last && m.data[id] != types.Sentinel {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]types.Sample, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) == limit {
			return out, id
		}
		out = append(out, types.Sample{LogID: id, Value: m.data[id]})
	}
	return out, last + 1
}

// Lookup returns the number of samples in hourID, and false when the hour
// holds none.
func (m *MemStore) Lookup(hourID int32, allowLoad bool) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int32
	for id, v := range m.data {
		if m.tb.HourID(id) == hourID && v != types.Sentinel {
			n++
		}
	}
	return n, n > 0
}
