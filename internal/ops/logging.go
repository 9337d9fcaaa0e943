package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ompomz/flowgazer/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogRelayConnection logs a relay connection event
func (l *Logger) LogRelayConnection(relay string, connected bool, err error) {
	if err != nil {
		l.Warn("relay connection failed",
			"relay", relay,
			"error", err)
	} else if connected {
		l.Info("relay connected",
			"relay", relay)
	} else {
		l.Info("relay disconnected",
			"relay", relay)
	}
}

// LogAnchorPhase logs the outcome of the anchor phase
func (l *Logger) LogAnchorPhase(collected int, oldest int64, empty bool) {
	if empty {
		l.Warn("anchor phase found no events")
		return
	}
	l.Info("anchor phase complete",
		"events", collected,
		"oldest", time.Unix(oldest, 0).Format(time.RFC3339))
}

// LogLoadMore logs a completed backward page
func (l *Logger) LogLoadMore(tab string, count int, newUntil int64) {
	l.Info("load more complete",
		"tab", tab,
		"events", count,
		"cursor_until", time.Unix(newUntil, 0).Format(time.RFC3339))
}

// LogRejectedEvent logs an event that failed the signature gate
func (l *Logger) LogRejectedEvent(eventID string, err error) {
	l.Warn("event rejected",
		"event_id", eventID,
		"error", err)
}

// LogProfileBatch logs a flushed profile batch
func (l *Logger) LogProfileBatch(requested, stored int) {
	l.Debug("profile batch complete",
		"requested", requested,
		"stored", stored)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}
