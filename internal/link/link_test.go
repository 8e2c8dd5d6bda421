package link

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage/types"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		line    string
		want    Frame
		wantErr bool
	}{
		{line: "s12v-345l67", want: Frame{Shift: 12, Value: -345, Num: 67}},
		{line: "s-3v0l0\r", want: Frame{Shift: -3, Value: 0, Num: 0}},
		{line: "s0v2147483647l1", want: Frame{Value: 2147483647, Num: 1}},
		{line: "", wantErr: true},
		{line: "hello", wantErr: true},
		{line: "s1l2v3", wantErr: true},
		{line: "sxv1l2", wantErr: true},
		{line: "s1v1x2l3", wantErr: true},
		{line: "s1v99999999999l3", wantErr: true},
		{line: "s1v1l", wantErr: true},
	}

	for _, tt := range tests {
		got, err := DecodeFrame(tt.line)
		if tt.wantErr {
			if !errors.Is(err, errors.ErrMalformedFrame) {
				t.Errorf("DecodeFrame(%q) error = %v, want ErrMalformedFrame", tt.line, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("DecodeFrame(%q) unexpected error: %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeFrame(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	samples []types.Sample
}

func (s *recordingSink) Enqueue(sample types.Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
}

func (s *recordingSink) all() []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Sample(nil), s.samples...)
}

// harness feeds frames at controlled arrival times. Frame k after binding
// is due at start + (k+1) periods.
type harness struct {
	t     *testing.T
	clk   *clock.Fake
	start time.Time
	ctrl  *Controller
	sink  *recordingSink
	out   *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rate, err := types.ParseSampleRate(40)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	sink := &recordingSink{}
	out := &bytes.Buffer{}
	ctrl := NewController(types.NewTimebase(rate), clk, sink)
	ctrl.Reset(out)
	return &harness{t: t, clk: clk, start: start, ctrl: ctrl, sink: sink, out: out}
}

// feed delivers frame num as the k-th frame after binding, late by lateUs.
func (h *harness) feed(k, num int, shift int, lateUs int64) {
	h.t.Helper()
	if k < 0 {
		h.clk.Set(h.start)
	} else {
		at := h.start.Add(time.Duration(k+1)*25*time.Millisecond + time.Duration(lateUs)*time.Microsecond)
		h.clk.Set(at)
	}
	if err := h.ctrl.HandleFrame(Frame{Shift: shift, Value: int32(num), Num: num}); err != nil {
		h.t.Fatalf("HandleFrame: %v", err)
	}
}

func (h *harness) bind() {
	h.feed(-1, 0, 0, 0)
}

func TestControllerCalibratesOnZeroDrift(t *testing.T) {
	h := newHarness(t)
	h.bind()

	for k := 1; k < 160; k++ {
		h.feed(k, k, 0, 0)
	}
	if !h.ctrl.Calibrating() {
		t.Fatal("calibration ended before the second window")
	}
	if n := len(h.sink.all()); n != 0 {
		t.Fatalf("forwarded %d samples while calibrating", n)
	}

	h.feed(160, 160, 0, 0)
	if h.ctrl.Calibrating() {
		t.Fatal("expected calibration to end after the second window")
	}
	if h.out.Len() != 0 {
		t.Errorf("unexpected correction pulses %q", h.out.String())
	}

	got := h.sink.all()
	if len(got) != 1 {
		t.Fatalf("forwarded %d samples, want 1", len(got))
	}
	firstLogID := clock.Micros(h.start)/25000 + 1
	if got[0].LogID != firstLogID+160 || got[0].Value != 160 {
		t.Errorf("forwarded %+v, want log id %d value 160", got[0], firstLogID+160)
	}
}

func TestControllerPulsesWhileCalibrating(t *testing.T) {
	h := newHarness(t)
	h.bind()

	// Constant 10ms lateness: goal -2500, target shift int(-31.25) = -31,
	// amplified to -46, giving 46/3+1 pulses.
	for k := 1; k <= 160; k++ {
		h.feed(k, k, 0, 10000)
	}

	if !h.ctrl.Calibrating() {
		t.Fatal("10ms drift should keep calibrating")
	}
	if want := strings.Repeat("-", 16); h.out.String() != want {
		t.Errorf("pulses = %q, want %q", h.out.String(), want)
	}
	if st := h.ctrl.Stats(); st.Pulses != 16 || st.LastAvgUs != 10000 {
		t.Errorf("stats = %+v", st)
	}
}

func TestControllerPulsesEarlySensor(t *testing.T) {
	h := newHarness(t)
	h.bind()

	// Drift improving from -8000 to -4000: change +4000, goal +1000,
	// target int(2 + (1000-4000)/80) = int(-35.5) = -35, delta -37
	// amplified to int(-55.5) = -55, giving 55/3+1 = 19 pulses.
	for k := 1; k <= 80; k++ {
		h.feed(k, k, 2, -8000)
	}
	for k := 81; k <= 160; k++ {
		h.feed(k, k, 2, -4000)
	}

	if want := strings.Repeat("-", 19); h.out.String() != want {
		t.Errorf("pulses = %q, want %q", h.out.String(), want)
	}
}

func TestControllerPositivePulses(t *testing.T) {
	h := newHarness(t)
	h.bind()

	// Steady -20ms: goal +5000, target int(5000/80) = 62, amplified to 93,
	// giving 93/3+1 = 32 '+' pulses.
	for k := 1; k <= 160; k++ {
		h.feed(k, k, 0, -20000)
	}

	if want := strings.Repeat("+", 32); h.out.String() != want {
		t.Errorf("pulses = %q, want %q", h.out.String(), want)
	}
}

func TestControllerSequenceHandling(t *testing.T) {
	h := newHarness(t)
	h.bind()
	for k := 1; k <= 160; k++ {
		h.feed(k, k, 0, 0)
	}
	if h.ctrl.Calibrating() {
		t.Fatal("expected calibration to be complete")
	}
	firstLogID := clock.Micros(h.start)/25000 + 1

	// Duplicate sequence number is ignored.
	h.feed(160, 160, 0, 0)
	if n := len(h.sink.all()); n != 1 {
		t.Fatalf("duplicate forwarded: %d samples", n)
	}

	// Wraparound continues the timeline.
	h.feed(161, 0, 0, 0)
	got := h.sink.all()
	if last := got[len(got)-1]; last.LogID != firstLogID+161 {
		t.Errorf("after wrap log id = %d, want %d", last.LogID, firstLogID+161)
	}

	// A jump in sequence is a link gap; the id still follows the sequence.
	h.feed(164, 3, 0, 0)
	got = h.sink.all()
	if last := got[len(got)-1]; last.LogID != firstLogID+164 {
		t.Errorf("after gap log id = %d, want %d", last.LogID, firstLogID+164)
	}
	if st := h.ctrl.Stats(); st.LinkGaps != 1 {
		t.Errorf("link gaps = %d, want 1", st.LinkGaps)
	}
}

func TestControllerResetRecalibrates(t *testing.T) {
	h := newHarness(t)
	h.bind()
	for k := 1; k <= 160; k++ {
		h.feed(k, k, 0, 0)
	}
	if h.ctrl.Calibrating() {
		t.Fatal("expected calibration to be complete")
	}

	h.ctrl.Reset(io.Discard)
	if !h.ctrl.Calibrating() {
		t.Error("reset should restart calibration")
	}
	if st := h.ctrl.Stats(); st.Frames != 161 {
		t.Errorf("frames = %d, want 161 (stats survive reset)", st.Frames)
	}

	h.ctrl.ResetStats()
	if st := h.ctrl.Stats(); st.Frames != 0 || st.Drift.Count != 0 {
		t.Errorf("stats after ResetStats = %+v", st)
	}
}

func TestDriftStats(t *testing.T) {
	d := NewDriftStats(0.01)
	if s := d.Summary(); s.Count != 0 || s.Min != 0 {
		t.Errorf("empty summary = %+v", s)
	}
	for _, v := range []float64{-300, 100, 200, 400} {
		d.Add(v)
	}
	s := d.Summary()
	if s.Count != 4 || s.Min != -300 || s.Max != 400 || s.Avg != 100 {
		t.Errorf("summary = %+v", s)
	}
}

// pipePort joins the reading side of one pipe with the writing side of
// another so a test can play the sensor.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) Close() error {
	p.r.Close()
	return p.w.Close()
}

func TestReaderHandshakeAndFrames(t *testing.T) {
	device := filepath.Join(t.TempDir(), "ttyFAKE")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	toReader, fromSensor := io.Pipe()
	toSensor, fromReader := io.Pipe()
	port := &pipePort{r: toReader, w: fromReader}

	rate, _ := types.ParseSampleRate(60)
	ctrl := NewController(types.NewTimebase(rate), clock.NewFake(time.Unix(0, 0)), &recordingSink{})
	r := NewReader(ReaderConfig{Device: device, SampleRate: rate, LineMax: 16}, ctrl,
		func(string) (Port, error) { return port, nil })

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); !errors.Is(err, errors.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	handshake := make([]byte, 2)
	if _, err := io.ReadFull(toSensor, handshake); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if string(handshake) != "r2" {
		t.Errorf("handshake = %q, want r2", handshake)
	}

	input := "boot banner\ns0v5l1\ns0v6l2\nthis line is far too long\ns0v7l3\n"
	if _, err := fromSensor.Write([]byte(input)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Lines < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("lines = %d, want 5", r.Stats().Lines)
		}
		time.Sleep(time.Millisecond)
	}

	st := r.Stats()
	if st.Malformed != 2 || st.Overflows != 1 {
		t.Errorf("stats = %+v", st)
	}
	if ctrl.Stats().Frames != 3 {
		t.Errorf("controller frames = %d, want 3", ctrl.Stats().Frames)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.IsRunning() {
		t.Error("reader still running after Stop")
	}
	if err := r.Stop(); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestReaderOpenFailure(t *testing.T) {
	rate, _ := types.ParseSampleRate(40)
	ctrl := NewController(types.NewTimebase(rate), nil, nil)
	r := NewReader(ReaderConfig{Device: filepath.Join(t.TempDir(), "missing")}, ctrl, nil)

	if err := r.Start(); err == nil {
		t.Fatal("expected open error")
	}
	if r.IsRunning() {
		t.Error("reader running after failed open")
	}
}

func TestReaderEndsWhenDeviceDisappears(t *testing.T) {
	device := filepath.Join(t.TempDir(), "ttyGONE")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	toReader, fromSensor := io.Pipe()
	toSensor, fromReader := io.Pipe()
	port := &pipePort{r: toReader, w: fromReader}

	rate, _ := types.ParseSampleRate(40)
	ctrl := NewController(types.NewTimebase(rate), nil, nil)
	r := NewReader(ReaderConfig{Device: device, SampleRate: rate}, ctrl,
		func(string) (Port, error) { return port, nil })

	// Pipe writes block until read.
	go io.Copy(io.Discard, toSensor)

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	os.Remove(device)
	fromSensor.Close()

	deadline := time.Now().Add(2 * time.Second)
	for r.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("reader did not stop after device vanished")
		}
		time.Sleep(time.Millisecond)
	}
}
