package parquet

import (
	"fmt"
	"os"

	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var log = logging.Component("export")

// exportBatch is the number of rows handed to the writer at once.
const exportBatch = 8192

// Source is the read side of the store. ScanHour must not add the hours
// it reads to the store's working set.
type Source interface {
	Timebase() types.Timebase
	ScanHour(hourID int32) []types.Sample
}

// ExportResult describes a finished export.
type ExportResult struct {
	Path      string
	FirstHour int32
	LastHour  int32
	Rows      int64
	Bytes     int64
}

// ExportHours writes every data-bearing sample of hours [firstHour, lastHour]
// to path. The file is written under a temporary name, read back and
// checked, and renamed on success.
func ExportHours(src Source, firstHour, lastHour int32, path string, opts Options) (*ExportResult, error) {
	if lastHour < firstHour {
		return nil, fmt.Errorf("hours %d..%d: %w", firstHour, lastHour, errors.ErrInvalidRange)
	}

	tb := src.Timebase()
	tmp := path + ".tmp"
	w, err := NewSampleWriter(tmp, tb, opts)
	if err != nil {
		return nil, err
	}

	for h := int64(firstHour); h <= int64(lastHour); h++ {
		samples := src.ScanHour(int32(h))
		for len(samples) > 0 {
			n := min(len(samples), exportBatch)
			if err := w.Write(samples[:n]); err != nil {
				w.Close()
				os.Remove(tmp)
				return nil, err
			}
			samples = samples[n:]
		}
	}

	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	info, err := Verify(tmp, tb, w.RowCount())
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename export: %w", err)
	}

	res := &ExportResult{
		Path:      path,
		FirstHour: firstHour,
		LastHour:  lastHour,
		Rows:      info.NumRows,
		Bytes:     info.Size,
	}
	log.Info("export complete", "path", path, "first_hour", firstHour, "last_hour", lastHour, "rows", res.Rows)
	return res, nil
}
