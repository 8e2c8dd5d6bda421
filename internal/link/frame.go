package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtxerr/seisd/internal/errors"
)

// Frame is one decoded sensor line.
type Frame struct {
	Shift int
	Value int32
	Num   int
}

// DecodeFrame parses "s<shift>v<value>l<num>". Trailing CR and spaces are
// ignored.
func DecodeFrame(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r ")
	if len(line) == 0 || line[0] != 's' {
		return Frame{}, fmt.Errorf("%q: %w", line, errors.ErrMalformedFrame)
	}

	v := strings.IndexByte(line, 'v')
	l := strings.IndexByte(line, 'l')
	if v < 0 || l < 0 || l < v {
		return Frame{}, fmt.Errorf("%q: %w", line, errors.ErrMalformedFrame)
	}

	shift, err := strconv.Atoi(line[1:v])
	if err != nil {
		return Frame{}, fmt.Errorf("shift in %q: %w", line, errors.ErrMalformedFrame)
	}
	value, err := strconv.ParseInt(line[v+1:l], 10, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("value in %q: %w", line, errors.ErrMalformedFrame)
	}
	num, err := strconv.Atoi(line[l+1:])
	if err != nil {
		return Frame{}, fmt.Errorf("log num in %q: %w", line, errors.ErrMalformedFrame)
	}

	return Frame{Shift: shift, Value: int32(value), Num: num}, nil
}
