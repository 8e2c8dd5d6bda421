// Package wire provides the newline text framing of the client protocol.
//
// Every token travels on its own line: command names, numeric arguments,
// sample values and log ids. Data blocks are a header line, value/log id
// line pairs and a terminating line holding the sentinel value.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/errors"
	"github.com/xtxerr/seisd/internal/storage/types"
)

// Command and header names.
const (
	CmdRealtime      = "realtime"
	CmdGetData       = "getdata"
	CmdHeartbeat     = "heartbeat"
	CmdDataHourCheck = "datahour_check"
	CmdSendData      = "senddata"

	HeaderRealtime = "realtime"
	HeaderLogs     = "logs"
)

// Greeting keys sent on connect, in order.
const (
	KeyCompatibilityVersion = "compatibility_version"
	KeySampleRate           = "sample_rate"
	KeyErrValue             = "err_value"
	KeyLastLogID            = "last_log_id"
)

// Greeting is the block of key:value lines a server sends on connect.
type Greeting struct {
	CompatibilityVersion int
	SampleRate           int
	ErrValue             int32
	LastLogID            int64
}

// =============================================================================
// Reader
// =============================================================================

// Reader reads newline-terminated lines of bounded length.
type Reader struct {
	r   *bufio.Reader
	max int
	mu  sync.Mutex
}

// NewReader creates a Reader. Lines longer than max bytes are rejected.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = config.DefaultCommandLineMax
	}
	return &Reader{r: bufio.NewReaderSize(r, max+2), max: max}
}

// ReadLine returns the next line without its terminator. An overlong line
// is consumed up to its newline and reported as ErrLineTooLong.
func (r *Reader) ReadLine() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, err := r.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull || (err == nil && len(line) > r.max+1) {
		for err == bufio.ErrBufferFull {
			_, err = r.r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", errors.ErrLineTooLong
	}
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// ReadInt reads a line holding a decimal integer that fits in bitSize bits.
// A line that does not parse is a malformed argument of command.
func (r *Reader) ReadInt(command string, bitSize int) (int64, error) {
	line, err := r.ReadLine()
	if err != nil {
		return 0, err
	}
	return ParseInt(command, line, bitSize)
}

// ParseInt parses a decimal argument line of command.
func ParseInt(command, line string, bitSize int) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(line), 10, bitSize)
	if err != nil {
		return 0, errors.NewMalformed(command, line, err)
	}
	return v, nil
}

// ReadField reads a "key:value" line and checks the key.
func (r *Reader) ReadField(key string) (int64, error) {
	line, err := r.ReadLine()
	if err != nil {
		return 0, err
	}
	k, v, ok := strings.Cut(line, ":")
	if !ok || k != key {
		return 0, fmt.Errorf("expected %s, got %q: %w", key, line, errors.ErrMalformedCommand)
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, errors.NewMalformed(key, v, perr)
	}
	return n, nil
}

// ReadGreeting reads the connect block.
func (r *Reader) ReadGreeting() (Greeting, error) {
	var g Greeting
	var vals [4]int64
	for i, key := range []string{KeyCompatibilityVersion, KeySampleRate, KeyErrValue, KeyLastLogID} {
		v, err := r.ReadField(key)
		if err != nil {
			return g, err
		}
		vals[i] = v
	}
	g.CompatibilityVersion = int(vals[0])
	g.SampleRate = int(vals[1])
	g.ErrValue = int32(vals[2])
	g.LastLogID = vals[3]
	return g, nil
}

// =============================================================================
// Writer
// =============================================================================

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// timedWriter arms a fresh write deadline before every write that reaches
// the destination.
type timedWriter struct {
	w       io.Writer
	dl      deadliner
	timeout time.Duration
}

func (t *timedWriter) Write(p []byte) (int, error) {
	t.dl.SetWriteDeadline(time.Now().Add(t.timeout))
	return t.w.Write(p)
}

// Writer buffers protocol lines. When the destination supports write
// deadlines and timeout is positive, every write to it must complete within
// timeout.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter creates a Writer. A timeout of zero disables deadlines.
func NewWriter(w io.Writer, timeout time.Duration) *Writer {
	if dl, ok := w.(deadliner); ok && timeout > 0 {
		w = &timedWriter{w: w, dl: dl, timeout: timeout}
	}
	return &Writer{w: bufio.NewWriter(w)}
}

// Line appends one line.
func (w *Writer) Line(s string) {
	w.mu.Lock()
	w.w.WriteString(s)
	w.w.WriteByte('\n')
	w.mu.Unlock()
}

// Int appends a decimal integer line.
func (w *Writer) Int(v int64) {
	w.mu.Lock()
	w.writeInt(v)
	w.mu.Unlock()
}

// Field appends a "key:value" line.
func (w *Writer) Field(key string, v int64) {
	w.mu.Lock()
	w.w.WriteString(key)
	w.w.WriteByte(':')
	w.writeInt(v)
	w.mu.Unlock()
}

// Greeting appends the connect block.
func (w *Writer) Greeting(g Greeting) {
	w.Field(KeyCompatibilityVersion, int64(g.CompatibilityVersion))
	w.Field(KeySampleRate, int64(g.SampleRate))
	w.Field(KeyErrValue, int64(g.ErrValue))
	w.Field(KeyLastLogID, g.LastLogID)
}

// Samples appends value/log id pairs, skipping sentinel values.
func (w *Writer) Samples(samples []types.Sample) {
	w.mu.Lock()
	for _, s := range samples {
		if !s.Valid() {
			continue
		}
		w.writeInt(int64(s.Value))
		w.writeInt(s.LogID)
	}
	w.mu.Unlock()
}

// Terminator appends the sentinel line that ends a data block.
func (w *Writer) Terminator() {
	w.Int(int64(types.Sentinel))
}

// Flush writes buffered lines to the destination.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Buffered returns the number of bytes waiting for Flush.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Buffered()
}

func (w *Writer) writeInt(v int64) {
	var buf [24]byte
	b := strconv.AppendInt(buf[:0], v, 10)
	b = append(b, '\n')
	w.w.Write(b)
}

// =============================================================================
// Conn
// =============================================================================

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter, lineMax int, writeTimeout time.Duration) *Conn {
	return &Conn{
		Reader: NewReader(rw, lineMax),
		Writer: NewWriter(rw, writeTimeout),
	}
}
