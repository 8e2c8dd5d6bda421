package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seisd"

type metricDef struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Snapshot) float64
}

func gauge(subsystem, name, help string, fn func(*Snapshot) float64) metricDef {
	return metricDef{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
		kind:  prometheus.GaugeValue,
		value: fn,
	}
}

func counter(subsystem, name, help string, fn func(*Snapshot) float64) metricDef {
	return metricDef{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
		kind:  prometheus.CounterValue,
		value: fn,
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// collector takes one snapshot per scrape and reports every metric from it.
type collector struct {
	source Source
	defs   []metricDef
	drift  *prometheus.Desc
}

func newCollector(source Source) *collector {
	return &collector{
		source: source,
		drift: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "drift_microseconds"),
			"Clock drift statistics over steady-state correction windows.",
			[]string{"stat"}, nil,
		),
		defs: []metricDef{
			// Store
			gauge("store", "resident_buckets", "Hour buckets held in memory.",
				func(s *Snapshot) float64 { return float64(s.Store.Resident) }),
			gauge("store", "dirty_buckets", "Resident buckets with unsaved changes.",
				func(s *Snapshot) float64 { return float64(s.Store.Dirty) }),
			gauge("store", "last_log_id", "Highest log id written.",
				func(s *Snapshot) float64 { return float64(s.Store.LastLogID) }),
			counter("store", "buckets_loaded_total", "Buckets read from disk.",
				func(s *Snapshot) float64 { return float64(s.Store.Loaded) }),
			counter("store", "buckets_saved_total", "Bucket files written.",
				func(s *Snapshot) float64 { return float64(s.Store.Saved) }),
			counter("store", "buckets_evicted_total", "Buckets dropped from memory.",
				func(s *Snapshot) float64 { return float64(s.Store.Evicted) }),
			counter("store", "save_errors_total", "Failed bucket saves.",
				func(s *Snapshot) float64 { return float64(s.Store.SaveErrors) }),
			counter("store", "corrupt_buckets_total", "Bucket files discarded as corrupt.",
				func(s *Snapshot) float64 { return float64(s.Store.Corrupt) }),
			counter("store", "samples_rejected_total", "Samples dropped for a log id off the timeline.",
				func(s *Snapshot) float64 { return float64(s.Store.Rejected) }),

			// Ingestion
			gauge("ingestion", "running", "Whether the consumer is running.",
				func(s *Snapshot) float64 { return flag(s.Ingestion.Running) }),
			counter("ingestion", "samples_applied_total", "Samples written into the store.",
				func(s *Snapshot) float64 { return float64(s.Ingestion.SamplesApplied) }),
			counter("ingestion", "overflows_total", "Samples dropped because the queue was full.",
				func(s *Snapshot) float64 { return float64(s.Ingestion.Overflows) }),
			counter("ingestion", "gaps_total", "Missing log ids between consecutive samples.",
				func(s *Snapshot) float64 { return float64(s.Ingestion.Gaps) }),
			gauge("ingestion", "queue_depth", "Samples waiting in the queue.",
				func(s *Snapshot) float64 { return float64(s.Ingestion.QueueDepth) }),
			gauge("ingestion", "queue_max_depth", "Queue high-water mark.",
				func(s *Snapshot) float64 { return float64(s.Ingestion.QueueMaxDepth) }),
			gauge("ingestion", "queue_capacity", "Queue capacity.",
				func(s *Snapshot) float64 { return float64(s.Ingestion.QueueCapacity) }),

			// Link
			gauge("link", "running", "Whether the serial link is open.",
				func(s *Snapshot) float64 { return flag(s.Link.Running) }),
			gauge("link", "calibrating", "Whether the controller is calibrating.",
				func(s *Snapshot) float64 { return flag(s.Controller.Calibrating) }),
			counter("link", "lines_total", "Lines read from the sensor.",
				func(s *Snapshot) float64 { return float64(s.Link.Lines) }),
			counter("link", "malformed_total", "Sensor lines that did not decode.",
				func(s *Snapshot) float64 { return float64(s.Link.Malformed) }),
			counter("link", "frames_total", "Frames handled by the controller.",
				func(s *Snapshot) float64 { return float64(s.Controller.Frames) }),
			counter("link", "gaps_total", "Forward jumps in the sensor sequence number.",
				func(s *Snapshot) float64 { return float64(s.Controller.LinkGaps) }),
			counter("link", "pulses_total", "Correction pulses sent to the sensor.",
				func(s *Snapshot) float64 { return float64(s.Controller.Pulses) }),

			// Server
			gauge("server", "running", "Whether the client listener is open.",
				func(s *Snapshot) float64 { return flag(s.Server.Running) }),
			gauge("server", "clients", "Connected clients.",
				func(s *Snapshot) float64 { return float64(s.Server.Clients) }),
			counter("server", "accepted_total", "Accepted client connections.",
				func(s *Snapshot) float64 { return float64(s.Server.Accepted) }),
			counter("server", "timeouts_total", "Clients removed by the watchdog.",
				func(s *Snapshot) float64 { return float64(s.Server.Timeouts) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.defs {
		ch <- d.desc
	}
	ch <- c.drift
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source()
	for _, d := range c.defs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, d.value(&snap))
	}

	drift := snap.Controller.Drift
	for _, st := range []struct {
		name  string
		value float64
	}{
		{"current", snap.Controller.LastAvgUs},
		{"min", drift.Min},
		{"max", drift.Max},
		{"p50", drift.P50},
		{"p99", drift.P99},
	} {
		ch <- prometheus.MustNewConstMetric(c.drift, prometheus.GaugeValue, st.value, st.name)
	}
}
