package config

import (
	"fmt"
	"time"
)

// Requirements represents calculated resource requirements for a
// storage configuration.
type Requirements struct {
	// Per bucket
	BucketBytes int64

	// Memory
	HotSetBytes     int64
	IdleWindowBytes int64
	QueueBytes      int64
	TotalRAMBytes   int64

	// Disk
	BytesPerDay  int64
	BytesPerYear int64

	// Throughput
	SamplesPerSecond int64
}

const (
	// bucketHeaderBytes is the fixed record header before the samples.
	bucketHeaderBytes = 24

	// bytesPerQueuedSample is the in-memory size of one queued sample.
	bytesPerQueuedSample = 16
)

// CalculateRequirements computes resource needs for the configuration.
func (c *Config) CalculateRequirements() *Requirements {
	r := &Requirements{}

	rate := int64(c.SampleRate)
	if rate <= 0 {
		return r
	}
	r.SamplesPerSecond = rate

	slots := int64(3_600_000 / (1000 / rate))
	r.BucketBytes = bucketHeaderBytes + slots*4

	// -------------------------------------------------------------------------
	// Memory
	// -------------------------------------------------------------------------

	r.HotSetBytes = int64(c.Retention.HotHours) * r.BucketBytes

	// Buckets touched by historical requests linger for the idle window
	// plus one autosave period before eviction sees them.
	lingerHours := int64((c.Retention.Idle + c.AutosaveInterval + time.Hour - 1) / time.Hour)
	r.IdleWindowBytes = lingerHours * r.BucketBytes

	r.QueueBytes = int64(c.Ingestion.QueueCapacity) * bytesPerQueuedSample
	r.TotalRAMBytes = r.HotSetBytes + r.IdleWindowBytes + r.QueueBytes

	// -------------------------------------------------------------------------
	// Disk
	// -------------------------------------------------------------------------

	// Bucket files are fixed size regardless of how many slots hold data.
	r.BytesPerDay = 24 * r.BucketBytes
	r.BytesPerYear = 365 * r.BytesPerDay

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================
Samples/sec:   %d
Bucket file:   %s
Memory:
  Hot set:     %s
  Idle window: %s
  Queue:       %s
  Total:       %s
Disk:
  Per day:     %s
  Per year:    %s`,
		r.SamplesPerSecond,
		formatBytes(r.BucketBytes),
		formatBytes(r.HotSetBytes),
		formatBytes(r.IdleWindowBytes),
		formatBytes(r.QueueBytes),
		formatBytes(r.TotalRAMBytes),
		formatBytes(r.BytesPerDay),
		formatBytes(r.BytesPerYear),
	)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
