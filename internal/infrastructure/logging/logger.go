package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
)

// ServiceName is the value of the "service" field on every entry.
const ServiceName = "graylogic-scripts"

// LevelCritical is one step above slog.LevelError.
const LevelCritical = slog.LevelError + 4

var levels = map[string]slog.Level{
	"debug":    slog.LevelDebug,
	"info":     slog.LevelInfo,
	"warn":     slog.LevelWarn,
	"warning":  slog.LevelWarn,
	"error":    slog.LevelError,
	"critical": LevelCritical,
}

// Logger is a slog.Logger with a Critical level. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New returns a logger writing to the stream named by cfg.Output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(out, cfg, version)
}

// NewWithWriter returns a logger writing to out; cfg.Output is ignored.
func NewWithWriter(out io.Writer, cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(out, cfg.Format, &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: renameLevel,
	})
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default is the logger used before the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

func newHandler(out io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// parseLevel maps a config level name to a slog level. Unknown names log
// at info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// renameLevel prints LevelCritical as CRITICAL rather than slog's ERROR+4.
func renameLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

// Critical logs msg at LevelCritical.
func (l *Logger) Critical(msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
