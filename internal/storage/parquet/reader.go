package parquet

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/seisd/internal/storage/types"
)

// readBatch is the number of rows decoded per read call.
const readBatch = 4096

// ErrExportMismatch is returned when an exported file does not match what
// was written.
var ErrExportMismatch = fmt.Errorf("export file mismatch")

// FileInfo describes an exported file.
type FileInfo struct {
	Path       string
	Size       int64
	NumRows    int64
	SampleRate int
}

// Each calls fn for every sample of an exported file in file order and
// returns the file's description. A non-nil error from fn stops the scan.
func Each(path string, fn func(types.Sample) error) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	info := &FileInfo{Path: path, Size: stat.Size(), NumRows: pf.NumRows()}
	if v, ok := pf.Lookup("sample_rate"); ok {
		info.SampleRate, _ = strconv.Atoi(v)
	}
	if info.NumRows == 0 {
		return info, nil
	}

	reader := parquet.NewGenericReader[SampleRow](pf)
	defer reader.Close()

	rows := make([]SampleRow, readBatch)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			if ferr := fn(RowToSample(&rows[i])); ferr != nil {
				return info, ferr
			}
		}
		if err == io.EOF {
			return info, nil
		}
		if err != nil {
			return info, fmt.Errorf("read %s: %w", path, err)
		}
	}
}

// ReadFile reads every sample of an exported file.
func ReadFile(path string) ([]types.Sample, error) {
	var samples []types.Sample
	_, err := Each(path, func(s types.Sample) error {
		samples = append(samples, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// Verify reads an exported file back and checks that it holds rows
// samples recorded at tb's rate, in strictly ascending log id order.
func Verify(path string, tb types.Timebase, rows int64) (*FileInfo, error) {
	var (
		seen int64
		prev int64 = -1
	)
	info, err := Each(path, func(s types.Sample) error {
		if s.LogID <= prev {
			return fmt.Errorf("%s: log id %d after %d: %w", path, s.LogID, prev, ErrExportMismatch)
		}
		prev = s.LogID
		seen++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if info.SampleRate != int(tb.Rate()) {
		return nil, fmt.Errorf("%s: sample rate %d, want %d: %w", path, info.SampleRate, int(tb.Rate()), ErrExportMismatch)
	}
	if info.NumRows != rows || seen != rows {
		return nil, fmt.Errorf("%s: %d rows (%d read), want %d: %w", path, info.NumRows, seen, rows, ErrExportMismatch)
	}
	return info, nil
}
