package parquet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage"
	"github.com/xtxerr/seisd/internal/storage/config"
	"github.com/xtxerr/seisd/internal/storage/types"
)

var tb40 = types.NewTimebase(40)

func TestSampleWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.parquet")

	samples := []types.Sample{
		{LogID: 68_000_000_000, Value: -12},
		{LogID: 68_000_000_001, Value: 1 << 24},
		{LogID: 68_000_000_005, Value: 0},
	}

	w, err := NewSampleWriter(path, tb40, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSampleWriter: %v", err)
	}
	if err := w.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.RowCount() != 3 {
		t.Errorf("RowCount = %d", w.RowCount())
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("read %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], samples[i])
		}
	}
}

func TestSampleToRow(t *testing.T) {
	s := types.Sample{LogID: 144000*5 + 10, Value: 3}
	row := SampleToRow(tb40, s)

	if row.HourID != 5 {
		t.Errorf("HourID = %d, want 5", row.HourID)
	}
	if row.TimestampMs != s.LogID*25 {
		t.Errorf("TimestampMs = %d", row.TimestampMs)
	}
	if back := RowToSample(&row); back != s {
		t.Errorf("RowToSample = %v", back)
	}
}

func TestCompressionTypes(t *testing.T) {
	dir := t.TempDir()

	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(dir, ct.String()+".parquet")
			opts := DefaultOptions()
			opts.Compression = ct

			w, err := NewSampleWriter(path, tb40, opts)
			if err != nil {
				t.Fatalf("NewSampleWriter: %v", err)
			}
			batch := make([]types.Sample, 1000)
			for i := range batch {
				batch[i] = types.Sample{LogID: int64(i), Value: int32(i % 17)}
			}
			if err := w.Write(batch); err != nil {
				t.Fatalf("Write: %v", err)
			}
			w.Close()

			info, err := Verify(path, tb40, 1000)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if info.NumRows != 1000 || info.Size <= 0 || info.SampleRate != 40 {
				t.Errorf("info = %+v", info)
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"snappy":  CompressionSnappy,
		"zstd":    CompressionZstd,
		"lz4":     CompressionLZ4,
		"gzip":    CompressionGzip,
		"none":    CompressionNone,
		"":        CompressionNone,
		"unknown": CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWriteToClosedWriter(t *testing.T) {
	w, err := NewSampleWriter(filepath.Join(t.TempDir(), "c.parquet"), tb40, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	if err := w.Write([]types.Sample{{LogID: 1}}); err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestExportHours(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.TimeZone = "UTC"

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	st, err := storage.New(cfg, storage.Options{Clock: clock.NewFake(start)})
	if err != nil {
		t.Fatal(err)
	}
	h := tb40.HourAt(start)

	// Hour h: 10000 samples (more than one batch). Hour h+1: empty.
	// Hour h+2: two samples. Hour h+3: outside the export.
	base := tb40.FirstLogID(h)
	for i := int64(0); i < 10000; i++ {
		st.Put(base+i*3, int32(i))
	}
	st.Put(tb40.FirstLogID(h+2), 1)
	st.Put(tb40.LastLogID(h+2), 2)
	st.Put(tb40.FirstLogID(h+3), 3)

	out := filepath.Join(dir, "export.parquet")
	res, err := ExportHours(st, h, h+2, out, DefaultOptions())
	if err != nil {
		t.Fatalf("ExportHours: %v", err)
	}
	if res.Rows != 10002 {
		t.Errorf("Rows = %d, want 10002", res.Rows)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	got, err := ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10002 {
		t.Fatalf("read %d rows", len(got))
	}
	if got[1].LogID != base+3 || got[1].Value != 1 {
		t.Errorf("row 1 = %v", got[1])
	}
	if last := got[len(got)-1]; last.LogID != tb40.LastLogID(h+2) || last.Value != 2 {
		t.Errorf("last row = %v", last)
	}

	if _, err := ExportHours(st, h+1, h, out, DefaultOptions()); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("inverted hours: %v", err)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.parquet")

	w, err := NewSampleWriter(path, tb40, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]types.Sample{{LogID: 5, Value: 1}, {LogID: 9, Value: 2}})
	w.Close()

	unordered := filepath.Join(dir, "unordered.parquet")
	w, err = NewSampleWriter(unordered, tb40, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]types.Sample{{LogID: 9, Value: 1}, {LogID: 5, Value: 2}})
	w.Close()

	garbage := filepath.Join(dir, "garbage.parquet")
	if err := os.WriteFile(garbage, []byte("not a parquet file"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		tb       types.Timebase
		rows     int64
		mismatch bool
		wantErr  bool
	}{
		{"ok", path, tb40, 2, false, false},
		{"row count", path, tb40, 3, true, true},
		{"sample rate", path, types.NewTimebase(100), 2, true, true},
		{"order", unordered, tb40, 2, true, true},
		{"not parquet", garbage, tb40, 0, false, true},
		{"missing", filepath.Join(dir, "missing.parquet"), tb40, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.path, tt.tb, tt.rows)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrExportMismatch); got != tt.mismatch {
				t.Errorf("ErrExportMismatch = %v, want %v (%v)", got, tt.mismatch, err)
			}
		})
	}
}

func TestExportKeepsWorkingSet(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.TimeZone = "UTC"

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	h := tb40.HourAt(start)

	st, err := storage.New(cfg, storage.Options{Clock: clock.NewFake(start)})
	if err != nil {
		t.Fatal(err)
	}
	for i := int32(0); i < 3; i++ {
		st.Put(tb40.FirstLogID(h+i)+7, i)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh store has nothing resident; exporting must not change that.
	st, err = storage.New(cfg, storage.Options{Clock: clock.NewFake(start)})
	if err != nil {
		t.Fatal(err)
	}
	st.Put(tb40.FirstLogID(h+1)+8, 42)

	res, err := ExportHours(st, h, h+2, filepath.Join(dir, "out.parquet"), DefaultOptions())
	if err != nil {
		t.Fatalf("ExportHours: %v", err)
	}
	if res.Rows != 4 {
		t.Errorf("Rows = %d, want 4", res.Rows)
	}
	if st.Resident(h) || st.Resident(h+2) {
		t.Error("export cached hours that were not resident")
	}
	if !st.Resident(h + 1) {
		t.Error("resident hour dropped by export")
	}
	if n := st.Stats().Resident; n != 1 {
		t.Errorf("Resident = %d, want 1", n)
	}
}
