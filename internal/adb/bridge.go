package adb

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nerrad567/adbmux/internal/process"
)

// Defaults for bridge invocations.
const (
	DefaultBinary         = "adb"
	DefaultListTimeout    = 10 * time.Second
	DefaultCommandTimeout = 5 * time.Minute
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Executor runs adb with the given argument tokens, optionally against one
// device, and returns its cleaned stdout.
type Executor interface {
	Run(ctx context.Context, tokens []string, serial string) (string, error)
}

// Config holds bridge settings.
type Config struct {
	// Binary is the adb executable. Default: "adb" on PATH.
	Binary string

	// ListTimeout bounds `adb devices -l`. Default: 10 seconds.
	ListTimeout time.Duration

	// CommandTimeout bounds user commands. Default: 5 minutes.
	CommandTimeout time.Duration

	// ServerPort, when non-zero, points every invocation at the adb server
	// on that port with -P.
	ServerPort int
}

// Bridge invokes the adb binary. It is safe for concurrent use; every call
// spawns its own process.
type Bridge struct {
	cfg    Config
	logger Logger
}

// NewBridge creates a bridge, filling in defaults for zero values.
func NewBridge(cfg Config) *Bridge {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.ListTimeout == 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Bridge{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Binary returns the adb executable in use.
func (b *Bridge) Binary() string {
	return b.cfg.Binary
}

// ListDevices runs `adb devices -l` and returns the raw report.
// It satisfies device.Source.
func (b *Bridge) ListDevices(ctx context.Context) (string, error) {
	return b.invoke(ctx, "devices", []string{"devices", "-l"}, "", b.cfg.ListTimeout)
}

// Run executes adb with tokens, prefixed by "-s serial" when serial is set.
func (b *Bridge) Run(ctx context.Context, tokens []string, serial string) (string, error) {
	if len(tokens) == 0 {
		return "", ErrEmptyCommand
	}
	return b.invoke(ctx, tokens[0], tokens, serial, b.cfg.CommandTimeout)
}

// Exec executes a user command string such as "adb install app.apk" on the
// device with the given serial. The leading "adb" keyword is optional.
func (b *Bridge) Exec(ctx context.Context, command, serial string) (string, error) {
	tokens := splitCommand(command)
	if len(tokens) == 0 {
		return "", ErrEmptyCommand
	}
	return b.Run(ctx, tokens, serial)
}

// invoke runs one adb process and converts failures into *BridgeError.
func (b *Bridge) invoke(ctx context.Context, op string, tokens []string, serial string, timeout time.Duration) (string, error) {
	args := b.args(tokens, serial)

	b.logger.Debug("running adb", "op", op, "args", args)

	res, err := process.Run(ctx, process.Command{
		Binary:  b.cfg.Binary,
		Args:    args,
		Timeout: timeout,
	})
	if err != nil {
		berr := &BridgeError{
			Op:       op,
			Args:     args,
			Serial:   serial,
			ExitCode: res.ExitCode,
			Stderr:   string(bytes.TrimSpace(res.Stderr)),
			Kind:     failureKind(err),
			Err:      err,
		}
		b.logger.Debug("adb failed", "op", op, "serial", serial, "error", berr)
		return "", berr
	}

	b.logger.Debug("adb finished", "op", op, "serial", serial, "duration", res.Duration)
	return CleanOutput(res.Stdout), nil
}

// args prepends the server port and serial selectors to tokens.
func (b *Bridge) args(tokens []string, serial string) []string {
	args := withSerial(tokens, serial)
	if b.cfg.ServerPort == 0 {
		return args
	}
	out := make([]string, 0, len(args)+2)
	out = append(out, "-P", strconv.Itoa(b.cfg.ServerPort))
	return append(out, args...)
}

func failureKind(err error) error {
	switch {
	case errors.Is(err, process.ErrStart):
		return ErrLaunch
	case errors.Is(err, process.ErrTimeout), errors.Is(err, process.ErrCancelled):
		return ErrTimeout
	default:
		return ErrExit
	}
}
