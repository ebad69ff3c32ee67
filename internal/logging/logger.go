// Package logging wires zerolog the same way across both services: one
// process-wide Logger configured from LOG_LEVEL/LOG_FORMAT, with a
// helper to attach a request id for request-scoped log lines.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

type ctxKey struct{}

// Init configures the global Logger from the environment and writes to stdout.
func Init(service string) {
	InitWithWriter(service, os.Stdout)
}

func InitWithWriter(service string, w io.Writer) {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if os.Getenv("LOG_FORMAT") == "json" {
		base = zerolog.New(w)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}

	Logger = base.With().Timestamp().Str("service", service).Logger().Level(level)
	zlog.Logger = Logger
}

// WithRequestID returns a context carrying reqID for later retrieval by WithCtx.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, reqID)
}

// WithCtx returns a logger enriched with the request id stored in ctx, if any.
func WithCtx(ctx context.Context) *zerolog.Logger {
	if reqID, ok := ctx.Value(ctxKey{}).(string); ok && reqID != "" {
		l := Logger.With().Str("request_id", reqID).Logger()
		return &l
	}
	return &Logger
}
