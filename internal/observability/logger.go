package observability

import (
	"context"
	"io"
	"log/slog"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

type LoggerOptions struct {
	Service string
	Profile string
	Level   slog.Level
	JSON    bool
}

func NewLogger(opts LoggerOptions, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: opts.Level})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: opts.Level})
	}
	return slog.New(handler).With(
		slog.String("service", opts.Service),
		slog.String("profile", opts.Profile),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
