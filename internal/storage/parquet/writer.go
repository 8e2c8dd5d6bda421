package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/xtxerr/seisd/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for zstd (1-22, 0 = default)
	CompressionLevel int

	// RowGroupSize is the maximum number of rows per row group (0 = library default)
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options. One row group holds an
// hour at 40 Hz.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		RowGroupSize:     144000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// String returns the configuration name of the algorithm.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType, level int) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &zstd.Codec{Level: zstdLevel(level)}
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// zstdLevel maps a numeric zstd level onto the encoder's speed presets.
func zstdLevel(level int) zstd.Level {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level == 1:
		return zstd.SpeedFastest
	case level < 6:
		return zstd.SpeedDefault
	case level < 10:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// SampleRow represents a sample in Parquet format.
type SampleRow struct {
	LogID       int64 `parquet:"log_id,delta"`
	TimestampMs int64 `parquet:"timestamp_ms,delta"`
	HourID      int32 `parquet:"hour_id"`
	Value       int32 `parquet:"value"`
}

// SampleToRow converts a Sample to a SampleRow.
func SampleToRow(tb types.Timebase, s types.Sample) SampleRow {
	return SampleRow{
		LogID:       s.LogID,
		TimestampMs: s.LogID * tb.PeriodMs(),
		HourID:      tb.HourID(s.LogID),
		Value:       s.Value,
	}
}

// RowToSample converts a SampleRow to a Sample.
func RowToSample(r *SampleRow) types.Sample {
	return types.Sample{
		LogID: r.LogID,
		Value: r.Value,
	}
}

// SampleWriter writes samples to a Parquet file.
type SampleWriter struct {
	mu       sync.Mutex
	path     string
	tb       types.Timebase
	file     *os.File
	writer   *parquet.GenericWriter[SampleRow]
	rows     []SampleRow
	rowCount int64
	closed   bool
}

// NewSampleWriter creates a new sample Parquet writer.
func NewSampleWriter(path string, tb types.Timebase, opts Options) (*SampleWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression, opts.CompressionLevel)),
		parquet.KeyValueMetadata("sample_rate", fmt.Sprintf("%d", int(tb.Rate()))),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(int64(opts.RowGroupSize)))
	}

	writer := parquet.NewGenericWriter[SampleRow](f, writerOpts...)

	return &SampleWriter{
		path:   path,
		tb:     tb,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes samples to the Parquet file.
func (w *SampleWriter) Write(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	w.rows = w.rows[:0]
	for _, s := range samples {
		w.rows = append(w.rows, SampleToRow(w.tb, s))
	}

	n, err := w.writer.Write(w.rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *SampleWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *SampleWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *SampleWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
