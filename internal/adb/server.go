package adb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/adbmux/internal/process"
)

// Timeouts and intervals for adb server management.
const (
	// readyTimeout is how long to wait for the server to accept connections.
	readyTimeout = 15 * time.Second

	// readyPollInterval is how often to check the server during the readiness wait.
	readyPollInterval = 100 * time.Millisecond

	// dialTimeout bounds a single TCP connection attempt.
	dialTimeout = 500 * time.Millisecond

	// DefaultServerPort is the port adb servers listen on unless told otherwise.
	DefaultServerPort = 5037
)

// ServerConfig controls an adb server owned by adbmux.
//
// When Managed is false adbmux relies on whatever server adb starts on its
// own, which is the normal desktop setup.
type ServerConfig struct {
	Managed bool

	// Binary is the adb executable.
	Binary string

	// Port is the server's listening port. Default: 5037.
	Port int

	// ListenAll adds -a so the server accepts connections on all interfaces.
	ListenAll bool

	RestartOnFailure    bool
	RestartDelay        time.Duration
	MaxRestartAttempts  int
	HealthCheckInterval time.Duration
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if !c.Managed {
		return nil
	}
	if c.Binary == "" {
		return errors.New("adb server binary path is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("adb server port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RestartDelay < 0 || c.HealthCheckInterval < 0 {
		return errors.New("adb server durations must not be negative")
	}
	return nil
}

// BuildArgs constructs the command line for a foreground adb server.
func (c *ServerConfig) BuildArgs() []string {
	var args []string
	if c.ListenAll {
		args = append(args, "-a")
	}
	args = append(args, "-P", strconv.Itoa(c.Port), "nodaemon", "server")
	return args
}

// Address returns the host:port the server listens on.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Port))
}

// Server runs and monitors a dedicated adb server.
type Server struct {
	config ServerConfig
	proc   *process.Supervisor
	logger Logger
}

// NewServer creates a server manager. Zero values get defaults.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultServerPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adb server config: %w", err)
	}
	return &Server{config: cfg, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the server manager.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the server and blocks until it answers a version query.
// It is a no-op when the server is not managed.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Managed {
		s.logger.Info("adb server management disabled, using adb's own server")
		return nil
	}

	args := s.config.BuildArgs()
	s.logger.Info("starting adb server", "binary", s.config.Binary, "args", args)

	s.proc = process.NewSupervisor(process.SupervisorConfig{
		Name:                "adb-server",
		Binary:              s.config.Binary,
		Args:                args,
		RestartOnFailure:    s.config.RestartOnFailure,
		RestartDelay:        s.config.RestartDelay,
		MaxRestartAttempts:  s.config.MaxRestartAttempts,
		HealthCheckInterval: s.config.HealthCheckInterval,
		HealthCheckFunc:     s.HealthCheck,
		OnExit: func(err error) {
			if err != nil {
				s.logger.Warn("adb server exited", "error", err)
			}
		},
	})
	s.proc.SetLogger(s.logger)

	if err := s.proc.Start(ctx); err != nil {
		return fmt.Errorf("starting adb server: %w", err)
	}

	if err := s.waitForReady(ctx); err != nil {
		s.proc.Stop()
		return fmt.Errorf("adb server failed to become ready: %w", err)
	}

	s.logger.Info("adb server ready", "address", s.config.Address())
	return nil
}

// waitForReady polls the server until it answers or readyTimeout passes.
func (s *Server) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for adb server: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for adb server on %s after %v", s.config.Address(), readyTimeout)
		}

		switch s.proc.Status() {
		case process.StatusFailed, process.StatusStopped:
			if last := s.proc.Stats().LastError; last != "" {
				return fmt.Errorf("adb server exited: %s", last)
			}
			return errors.New("adb server exited unexpectedly")
		}

		if err := s.HealthCheck(ctx); err == nil {
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// HealthCheck asks the server for its version over the adb host protocol.
// A server that accepts TCP connections but does not answer is unhealthy.
func (s *Server) HealthCheck(ctx context.Context) error {
	_, err := QueryVersion(ctx, s.config.Address())
	return err
}

// Stop stops a managed server.
func (s *Server) Stop() {
	if !s.config.Managed || s.proc == nil {
		return
	}
	s.logger.Info("stopping adb server")
	s.proc.Stop()
}

// Port returns the configured server port, or 0 when adb's own server is
// used and no -P flag is needed.
func (s *Server) Port() int {
	if !s.config.Managed {
		return 0
	}
	return s.config.Port
}

// ServerStats describes the adb server for monitoring.
type ServerStats struct {
	Managed  bool          `json:"managed"`
	Status   string        `json:"status"`
	Address  string        `json:"address"`
	PID      int           `json:"pid,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	Restarts int           `json:"restarts"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the server.
func (s *Server) Stats() ServerStats {
	stats := ServerStats{
		Managed: s.config.Managed,
		Address: s.config.Address(),
	}

	switch {
	case !s.config.Managed:
		stats.Status = "external"
	case s.proc == nil:
		stats.Status = string(process.StatusStopped)
	default:
		ps := s.proc.Stats()
		stats.Status = string(ps.Status)
		stats.PID = ps.PID
		stats.Uptime = ps.Uptime
		stats.Restarts = ps.Restarts
		stats.LastErr = ps.LastError
	}
	return stats
}

// QueryVersion sends the "host:version" request to the adb server at addr
// and returns the protocol version it reports.
//
// Requests are framed as a four-digit hex length followed by the payload.
// The server replies OKAY or FAIL, then a hex length and the body.
func QueryVersion(ctx context.Context, addr string) (int, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("connecting to adb server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // best effort on a fresh connection
	} else {
		_ = conn.SetDeadline(time.Now().Add(2 * dialTimeout)) //nolint:errcheck // best effort on a fresh connection
	}

	const req = "host:version"
	if _, err := fmt.Fprintf(conn, "%04x%s", len(req), req); err != nil {
		return 0, fmt.Errorf("sending version request: %w", err)
	}

	r := bufio.NewReader(conn)
	status := make([]byte, 4)
	if _, err := io.ReadFull(r, status); err != nil {
		return 0, fmt.Errorf("reading status: %w", err)
	}

	body, err := readHexBlock(r)
	if err != nil {
		return 0, err
	}

	if string(status) != "OKAY" {
		return 0, fmt.Errorf("adb server refused version request: %s", body)
	}

	v, err := strconv.ParseInt(body, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing server version %q: %w", body, err)
	}
	return int(v), nil
}

// readHexBlock reads a four-hex-digit length prefix and that many bytes.
func readHexBlock(r io.Reader) (string, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return "", fmt.Errorf("reading length: %w", err)
	}
	n, err := strconv.ParseUint(string(head), 16, 16)
	if err != nil {
		return "", fmt.Errorf("parsing length %q: %w", head, err)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(body), nil
}
