// Package logger provides structured logging setup for Concord and the
// request-scoped context helpers the transport layer uses.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Options configures New. Level and Format accept the values documented on
// config.Logging; unknown values fall back to info/json.
type Options struct {
	Level   string
	Format  string
	Service string
}

// New creates a *slog.Logger writing to w with a "service" attribute on
// every record. A nil w defaults to stdout.
func New(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level, ok := levels[strings.ToLower(opts.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}

	return slog.New(handler).With("service", opts.Service)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
