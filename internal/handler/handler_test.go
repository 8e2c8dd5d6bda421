package handler

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/seisd/internal/clock"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage/types"
	testutil "github.com/xtxerr/seisd/internal/testing"
	"github.com/xtxerr/seisd/internal/wire"
)

func testTimebase(t *testing.T) types.Timebase {
	t.Helper()
	rate, err := types.ParseSampleRate(40)
	if err != nil {
		t.Fatal(err)
	}
	return types.NewTimebase(rate)
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
}

func (c *testClient) send(lines ...string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		c.t.Fatalf("send %v: %v", lines, err)
	}
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadLine()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return line
}

// readBlock reads one data block and returns its header and samples.
func (c *testClient) readBlock() (string, []types.Sample) {
	c.t.Helper()
	header := c.readLine()
	var samples []types.Sample
	for {
		v, err := strconv.ParseInt(c.readLine(), 10, 32)
		if err != nil {
			c.t.Fatalf("value line: %v", err)
		}
		if int32(v) == types.Sentinel {
			return header, samples
		}
		id, err := strconv.ParseInt(c.readLine(), 10, 64)
		if err != nil {
			c.t.Fatalf("log id line: %v", err)
		}
		samples = append(samples, types.Sample{LogID: id, Value: int32(v)})
	}
}

func (c *testClient) expectBlock(header string, ids ...int64) {
	c.t.Helper()
	got, samples := c.readBlock()
	if got != header {
		c.t.Fatalf("header = %q, want %q", got, header)
	}
	if len(samples) != len(ids) {
		c.t.Fatalf("%s block has %d samples %v, want ids %v", header, len(samples), samples, ids)
	}
	for i, s := range samples {
		if s.LogID != ids[i] {
			c.t.Errorf("sample %d log id = %d, want %d", i, s.LogID, ids[i])
		}
	}
}

type fixture struct {
	session *Session
	store   *testutil.MemStore
	client  *testClient
	clock   *clock.Fake
}

func newFixture(t *testing.T, cfg Config, fill func(*testutil.MemStore)) *fixture {
	t.Helper()

	tb := testTimebase(t)
	store := testutil.NewMemStore(tb)
	if fill != nil {
		fill(store)
	}
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	srv, cli := net.Pipe()
	s := NewSession(1, srv, Deps{Store: store, Injector: store, Timebase: tb, Clock: clk}, cfg)
	c := &testClient{t: t, conn: cli, r: wire.NewReader(cli, 0)}

	started := make(chan error, 1)
	go func() {
		started <- s.Start(wire.Greeting{
			CompatibilityVersion: 4,
			SampleRate:           40,
			ErrValue:             types.Sentinel,
			LastLogID:            store.LastLogID(),
		})
	}()

	cli.SetReadDeadline(time.Now().Add(2 * time.Second))
	g, err := c.r.ReadGreeting()
	if err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if g.LastLogID != store.LastLogID() || g.SampleRate != 40 {
		t.Errorf("greeting = %+v", g)
	}
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}

	t.Cleanup(func() {
		cli.Close()
		s.Close()
	})
	return &fixture{session: s, store: store, client: c, clock: clk}
}

func fillRange(first, last int64) func(*testutil.MemStore) {
	return func(m *testutil.MemStore) {
		for id := first; id <= last; id++ {
			m.Put(id, int32(id%1000))
		}
	}
}

func TestGetData(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(1000, 1009))

	f.client.send("getdata", "1002", "1004")
	f.client.expectBlock(wire.HeaderLogs, 1002, 1003, 1004)

	// Ids without data are skipped.
	f.client.send("getdata", "1008", "1020")
	f.client.expectBlock(wire.HeaderLogs, 1008, 1009)
}

func TestGetDataRejectsInvalidRanges(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(1000, 1001))

	f.client.send("getdata", "100", "50")
	f.client.send("getdata", "0", strconv.FormatInt(f.store.Timebase().SamplesIn(25*time.Hour), 10))
	f.client.send("getdata", "abc", "1001")
	f.client.send("getdata", "1000", "1001")

	// The first block on the wire answers the only valid request.
	f.client.expectBlock(wire.HeaderLogs, 1000, 1001)

	st := f.session.Stats()
	if st.Violations != 3 {
		t.Errorf("violations = %d, want 3", st.Violations)
	}
	if !f.session.Alive() {
		t.Error("protocol violations must not close the session")
	}
}

func TestGetDataChunks(t *testing.T) {
	// 100ms at 40 Hz is four log ids per chunk.
	f := newFixture(t, Config{RequestChunk: 100 * time.Millisecond}, fillRange(1000, 1009))

	f.client.send("getdata", "1000", "1009")
	f.client.expectBlock(wire.HeaderLogs, 1000, 1001, 1002, 1003)
	f.client.expectBlock(wire.HeaderLogs, 1004, 1005, 1006, 1007)
	f.client.expectBlock(wire.HeaderLogs, 1008, 1009)
}

func TestRealtime(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(1000, 1005))

	f.client.send("realtime", "1002")
	f.client.expectBlock(wire.HeaderRealtime, 1003, 1004, 1005)

	f.store.Put(1006, 6)
	f.session.Signal()
	f.client.expectBlock(wire.HeaderRealtime, 1006)

	if !f.session.Realtime() {
		t.Error("expected realtime subscription")
	}
	f.client.send("realtime", "1006")
	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return !f.session.Realtime()
	}); err != nil {
		t.Error("second realtime command should unsubscribe")
	}
}

func TestRealtimeCapsBackfill(t *testing.T) {
	// One second at 40 Hz is 40 log ids.
	f := newFixture(t, Config{RealtimeMaxGap: time.Second}, fillRange(0, 99))

	f.client.send("realtime", "-1")
	f.client.expectBlock(wire.HeaderRealtime, 99)

	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		st := f.session.Stats()
		return st.RealtimeSkips == 1 && st.LastSent == 99
	}); err != nil {
		t.Errorf("stats = %+v", f.session.Stats())
	}
}

func TestDataHourCheck(t *testing.T) {
	f := newFixture(t, Config{RequestChunk: time.Hour}, func(m *testutil.MemStore) {
		m.Put(5, 1)
		m.Put(7, 2)
	})

	f.client.send("datahour_check", "0", "2")  // counts match
	f.client.send("datahour_check", "3", "10") // hour unknown
	f.client.send("datahour_check", "0", "1")
	f.client.expectBlock(wire.HeaderLogs, 5, 7)

	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return f.session.Stats().PendingRequests == 0
	}); err != nil {
		t.Error("whole-hour request should be consumed by one chunk")
	}
}

func TestSendData(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	f.client.send("senddata", "42", "1234")
	f.client.send("senddata", "99999999999", "1235")

	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return f.session.Stats().Violations == 1
	}); err != nil {
		t.Fatal(err)
	}
	got := f.store.Injected()
	if len(got) != 1 || got[0] != (types.Sample{LogID: 1234, Value: 42}) {
		t.Errorf("injected = %v", got)
	}
}

func TestSendDataOffTimeline(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(10, 10))

	f.client.send("senddata", "1", "-5")
	f.client.send("senddata", "2", "-9223372036854775808")
	f.client.send("senddata", "3", "7")

	// The session keeps serving after the rejected samples.
	f.client.send("getdata", "10", "10")
	f.client.expectBlock(wire.HeaderLogs, 10)

	if st := f.session.Stats(); st.Violations != 2 {
		t.Errorf("violations = %d, want 2", st.Violations)
	}
	got := f.store.Injected()
	if len(got) != 1 || got[0] != (types.Sample{LogID: 7, Value: 3}) {
		t.Errorf("injected = %v", got)
	}
}

func TestGetDataBoundsOverflow(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(10, 12))

	f.client.send("getdata", "-4611686018427387904", "4611686018427387904")
	f.client.send("getdata", "0", "9223372036854775807")
	f.client.send("getdata", "-1", "10")
	f.client.send("getdata", "10", "11")
	f.client.expectBlock(wire.HeaderLogs, 10, 11)

	st := f.session.Stats()
	if st.Violations != 3 {
		t.Errorf("violations = %d, want 3", st.Violations)
	}
	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return f.session.Stats().PendingRequests == 0
	}); err != nil {
		t.Error("rejected ranges should not be queued")
	}
}

func TestRealtimeBookmarkClamped(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(0, 4))

	f.client.send("realtime", "-9223372036854775808")
	f.client.expectBlock(wire.HeaderRealtime, 0, 1, 2, 3, 4)

	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		st := f.session.Stats()
		return st.LastSent == 4 && st.RealtimeSkips == 0
	}); err != nil {
		t.Errorf("stats = %+v", f.session.Stats())
	}
	if !f.session.Alive() {
		t.Error("session died")
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, Config{RequestMaxLength: time.Second}, nil)
	tb := testTimebase(t)

	tests := []struct {
		name        string
		first, last int64
		want        error
	}{
		{"inverted", 10, 5, errors.ErrInvalidRange},
		{"negative first", -5, 10, errors.ErrInvalidRange},
		{"past timeline", 0, tb.MaxLogID() + 1, errors.ErrInvalidRange},
		{"too long", 0, 41, errors.ErrRangeTooLong},
		{"wide negative", -4611686018427387904, 4611686018427387904, errors.ErrInvalidRange},
		{"max length", 0, 40, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.session.Request(tt.first, tt.last)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Request: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Request error = %v, want %v", err, tt.want)
			}
			if !errors.IsProtocolError(err) {
				t.Errorf("%v is not a protocol violation", err)
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, Config{}, fillRange(10, 10))

	f.client.send("bogus", "getdata", "10", "10")
	f.client.expectBlock(wire.HeaderLogs, 10)

	if st := f.session.Stats(); st.Violations != 1 || st.Commands != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	f.session.Probe()
	if line := f.client.readLine(); line != wire.CmdHeartbeat {
		t.Fatalf("probe = %q", line)
	}

	timeout := 20 * time.Second
	start := f.clock.Now()
	if f.session.Expired(start.Add(10*time.Second), timeout) {
		t.Error("expired too early")
	}
	if !f.session.Expired(start.Add(21*time.Second), timeout) {
		t.Error("silent session should expire")
	}

	f.clock.Advance(15 * time.Second)
	f.client.send("heartbeat")
	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return f.session.Stats().LastHeartbeat.Equal(f.clock.Now())
	}); err != nil {
		t.Fatal(err)
	}
	if f.session.Expired(start.Add(21*time.Second), timeout) {
		t.Error("heartbeat should refresh liveness")
	}
}

func TestClientDisconnect(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	f.client.conn.Close()
	if err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return !f.session.Alive()
	}); err != nil {
		t.Fatal("session should die when the client goes away")
	}
	if !f.session.Expired(f.clock.Now(), time.Hour) {
		t.Error("dead session should count as expired")
	}

	if err := testutil.WithTimeout(time.Second, func() error {
		f.session.Close()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRequestQueue(t *testing.T) {
	q := NewRequestQueue(3)
	if q.Cap() != 2 {
		t.Fatalf("Cap = %d, want 2", q.Cap())
	}

	if err := q.Push(Request{First: 1, Last: 10}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Request{First: 20, Last: 30}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(Request{First: 40, Last: 50}); !errors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("third push = %v, want ErrQueueFull", err)
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d", q.Dropped())
	}

	q.Advance(5)
	if r, _ := q.Peek(); r.First != 5 || r.Last != 10 {
		t.Errorf("after advance = %+v", r)
	}
	q.Advance(11)
	if r, _ := q.Peek(); r.First != 20 {
		t.Errorf("exhausted request not removed: %+v", r)
	}
	q.Advance(31)
	if _, ok := q.Peek(); ok || q.Len() != 0 {
		t.Error("queue should be empty")
	}

	// Wraps around.
	for i := 0; i < 5; i++ {
		if err := q.Push(Request{First: int64(i), Last: int64(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		q.Advance(int64(i) + 1)
	}
}
