// Package logging provides structured logging for seisd.
//
// Every subsystem takes a component logger at package level:
//
//	var log = logging.Component("store")
//	log.Warn("bucket discarded", "hour_id", hourID, "error", err)
//
// Component loggers resolve the process logger on every call, so a logger
// obtained before Init still honours the level and format chosen later.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	current atomic.Pointer[slog.Logger]
	level   = new(slog.LevelVar)
)

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// Init sets the process logger. If jsonFormat is true, entries are written as
// JSON; otherwise as logfmt text. Output goes to stdout.
func Init(lvl slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, lvl, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, lvl slog.Level, jsonFormat bool) {
	level.Set(lvl)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	InitWithHandler(handler)
}

// InitWithHandler installs a custom handler. Tests use it to capture output.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)
	current.Store(l)
	slog.SetDefault(l)
}

// SetLevel changes the minimum level at runtime.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// ParseLevel maps a config string to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	return current.Load()
}

// Component returns a logger tagged with component=name.
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{name: name})
}

// componentHandler forwards to whatever handler the process logger holds at
// the time of the call.
type componentHandler struct {
	name  string
	attrs []slog.Attr
	group string
}

func (h *componentHandler) target() slog.Handler {
	t := current.Load().Handler().WithAttrs([]slog.Attr{slog.String("component", h.name)})
	if h.group != "" {
		t = t.WithGroup(h.group)
	}
	if len(h.attrs) > 0 {
		t = t.WithAttrs(h.attrs)
	}
	return t
}

func (h *componentHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return current.Load().Handler().Enabled(ctx, l)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(clientIDKey{}).(uint64); ok {
		r.AddAttrs(slog.Uint64("client_id", id))
	}
	return h.target().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &n
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	n := *h
	if n.group != "" {
		n.group += "." + name
	} else {
		n.group = name
	}
	return &n
}

type clientIDKey struct{}

// ContextWithClientID tags ctx so log calls made with it carry client_id.
func ContextWithClientID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, clientIDKey{}, id)
}
