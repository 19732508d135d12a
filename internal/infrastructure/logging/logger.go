package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/adbmux/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "adbmux"

// Logger wraps slog.Logger with the default fields adbmux attaches to every
// entry. It satisfies the small Logger interfaces the other packages accept.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named in cfg.Output:
// "stdout", "stderr" (the default for the CLI, so logs never mix with
// command output) or "discard".
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Application version for the default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	case "discard":
		out = io.Discard
	default:
		out = os.Stderr
	}
	return NewWithWriter(out, cfg, version)
}

// NewWithWriter creates a Logger writing to w. Format and level come from
// cfg; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
// Unrecognised values give info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	watchLogger := logger.With("component", "watch")
//	watchLogger.Info("started") // Includes component=watch
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates the logger used before configuration is loaded:
// text on stderr at warn level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "warn",
		Format: "text",
		Output: "stderr",
	}, "dev")
}
