// Package observability provides structured logging, OTel metrics and tracing.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	tlog "go.temporal.io/sdk/log"
)

// ServiceName is attached to every log line and exported span.
const ServiceName = "costpipe"

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger writing to w, tagged with the service name.
func NewLogger(w io.Writer, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With("service", ServiceName)
}

// InitLogger installs a stdout JSON logger as the slog default and returns it.
func InitLogger(level string) *slog.Logger {
	logger := NewLogger(os.Stdout, level)
	slog.SetDefault(logger)
	return logger
}

// Component scopes logger to one pipeline component ("collection", "weekly").
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// TemporalSlogAdapter routes Temporal SDK logs through slog.
type TemporalSlogAdapter struct {
	logger *slog.Logger
}

// NewTemporalSlogAdapter wraps logger, tagging lines with component=temporal.
func NewTemporalSlogAdapter(logger *slog.Logger) *TemporalSlogAdapter {
	return &TemporalSlogAdapter{logger: Component(logger, "temporal")}
}

func (a *TemporalSlogAdapter) Debug(msg string, keyvals ...any) { a.logger.Debug(msg, keyvals...) }
func (a *TemporalSlogAdapter) Info(msg string, keyvals ...any)  { a.logger.Info(msg, keyvals...) }
func (a *TemporalSlogAdapter) Warn(msg string, keyvals ...any)  { a.logger.Warn(msg, keyvals...) }
func (a *TemporalSlogAdapter) Error(msg string, keyvals ...any) { a.logger.Error(msg, keyvals...) }

// With carries workflow and activity fields the SDK attaches.
func (a *TemporalSlogAdapter) With(keyvals ...any) tlog.Logger {
	return &TemporalSlogAdapter{logger: a.logger.With(keyvals...)}
}

var (
	_ tlog.Logger     = (*TemporalSlogAdapter)(nil)
	_ tlog.WithLogger = (*TemporalSlogAdapter)(nil)
)
