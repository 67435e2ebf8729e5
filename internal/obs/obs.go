// Package obs configures the process logger and small timing helpers around it.
package obs

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// NewLogger returns a logrus logger writing to stderr. format is "json" or "text";
// an unknown level falls back to info.
func NewLogger(level, format string) *log.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) *log.Logger {
	l := log.New()
	l.SetOutput(w)
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return l
}

// WithRequestID stores the request id so Time and FromContext can tag entries.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// FromContext returns an entry carrying the request id of ctx, if any.
func FromContext(ctx context.Context, l log.FieldLogger) log.FieldLogger {
	if id, _ := ctx.Value(RequestIDKey).(string); id != "" {
		return l.WithField("req_id", id)
	}
	return l
}

// Time logs the duration of op once the returned func runs; use it with defer and a
// named error result.
func Time(ctx context.Context, l log.FieldLogger, op string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		e := FromContext(ctx, l).WithFields(log.Fields{"op": op, "dur_ms": time.Since(start).Milliseconds()})
		if errp != nil && *errp != nil {
			e.WithError(*errp).Warn("op failed")
			return
		}
		e.Debug("op done")
	}
}
