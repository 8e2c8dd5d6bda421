package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage/types"
)

func TestReadLine(t *testing.T) {
	in := "heartbeat\r\n" + strings.Repeat("x", 40) + "\nrealtime\npartial"
	r := NewReader(strings.NewReader(in), 32)

	line, err := r.ReadLine()
	if err != nil || line != "heartbeat" {
		t.Fatalf("ReadLine = %q, %v", line, err)
	}

	if _, err := r.ReadLine(); !errors.Is(err, errors.ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	// The reader resynchronises on the next line.
	line, err = r.ReadLine()
	if err != nil || line != "realtime" {
		t.Fatalf("ReadLine after overflow = %q, %v", line, err)
	}

	if _, err := r.ReadLine(); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadInt(t *testing.T) {
	tests := []struct {
		in      string
		bits    int
		want    int64
		wantErr bool
	}{
		{in: "-1\n", bits: 64, want: -1},
		{in: "1700000000\n", bits: 64, want: 1700000000},
		{in: " 42 \n", bits: 32, want: 42},
		{in: "abc\n", bits: 64, wantErr: true},
		{in: "4294967296\n", bits: 32, wantErr: true},
		{in: "\n", bits: 64, wantErr: true},
	}

	for _, tt := range tests {
		r := NewReader(strings.NewReader(tt.in), 0)
		got, err := r.ReadInt("getdata", tt.bits)
		if tt.wantErr {
			if !errors.Is(err, errors.ErrMalformedCommand) {
				t.Errorf("ReadInt(%q) error = %v, want ErrMalformedCommand", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ReadInt(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestGreetingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	want := Greeting{CompatibilityVersion: 4, SampleRate: 40, ErrValue: types.Sentinel, LastLogID: 68000000123}
	w.Greeting(want)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	wantText := "compatibility_version:4\nsample_rate:40\nerr_value:-2147483647\nlast_log_id:68000000123\n"
	if buf.String() != wantText {
		t.Errorf("greeting = %q, want %q", buf.String(), wantText)
	}

	got, err := NewReader(&buf, 0).ReadGreeting()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("ReadGreeting = %+v, want %+v", got, want)
	}
}

func TestReadGreetingRejectsWrongKey(t *testing.T) {
	r := NewReader(strings.NewReader("version:4\n"), 0)
	if _, err := r.ReadGreeting(); !errors.Is(err, errors.ErrMalformedCommand) {
		t.Errorf("expected ErrMalformedCommand, got %v", err)
	}
}

func TestDataBlock(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	w.Line(HeaderLogs)
	w.Samples([]types.Sample{
		{LogID: 1000, Value: 42},
		{LogID: 1001, Value: types.Sentinel},
		{LogID: 1002, Value: -7},
	})
	w.Terminator()

	if buf.Len() != 0 {
		t.Error("data written before Flush")
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	want := "logs\n42\n1000\n-7\n1002\n-2147483647\n"
	if buf.String() != want {
		t.Errorf("block = %q, want %q", buf.String(), want)
	}
}

type deadlineBuffer struct {
	bytes.Buffer
	deadlines int
}

func (d *deadlineBuffer) SetWriteDeadline(time.Time) error {
	d.deadlines++
	return nil
}

func TestWriterArmsDeadline(t *testing.T) {
	var dst deadlineBuffer
	w := NewWriter(&dst, time.Second)
	w.Line(CmdHeartbeat)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if dst.deadlines != 1 {
		t.Errorf("deadlines armed = %d, want 1", dst.deadlines)
	}

	var plain deadlineBuffer
	w = NewWriter(&plain, 0)
	w.Line(CmdHeartbeat)
	w.Flush()
	if plain.deadlines != 0 {
		t.Error("zero timeout should not arm deadlines")
	}
}
