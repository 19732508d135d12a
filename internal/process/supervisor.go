package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

// Logger defines the logging interface for the process package.
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

// Supervisor defaults.
const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	healthCheckTimeout         = 5 * time.Second
	maxHealthFailures          = 3
	outputTailLines            = 50
)

// SupervisorConfig holds configuration for a long-running child process.
type SupervisorConfig struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// RestartOnFailure restarts the process when it exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the first delay before a restart. It doubles on each
	// consecutive failure up to MaxRestartDelay.
	RestartDelay time.Duration

	// MaxRestartDelay caps the backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long the process must stay up before the
	// backoff and attempt counter reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is called periodically while the process runs.
	// Three consecutive failures kill the process, which then follows the
	// normal restart path. Nil disables health checks.
	HealthCheckFunc func(ctx context.Context) error

	// HealthCheckInterval is how often to run health checks.
	HealthCheckInterval time.Duration

	// OnExit is called whenever the process exits, with nil for a
	// requested stop.
	OnExit func(err error)
}

// Supervisor runs a child process in its own process group, restarts it
// with exponential backoff and watches it with an optional health check.
type Supervisor struct {
	config SupervisorConfig
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int // Total restarts since Start
	attempt       int // Consecutive failed runs, reset once stable
	lastError     error
	startTime     time.Time
	stopRequested bool
	tail          []string
	stop          chan struct{} // Closed by Stop
	done          chan struct{} // Closed when supervision ends
}

// NewSupervisor creates a supervisor. Zero durations select defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}

	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Start launches the process and begins supervising it.
// It returns an error only if the first launch fails.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil && !closed(s.done) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.restarts = 0
	s.attempt = 0
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx, stop, cmd)
	return nil
}

// launch starts one instance of the process.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	log := s.log()
	log.Info("starting process", "name", s.config.Name, "binary", s.config.Binary, "args", s.config.Args)

	// Not CommandContext: the supervisor owns the lifetime and signals the
	// whole group on Stop.
	cmd := exec.Command(s.config.Binary, s.config.Args...) //nolint:gosec // Binary comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStart, s.config.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.capture("stdout", stdout)
	go s.capture("stderr", stderr)

	log.Info("process started", "name", s.config.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// capture logs the process output line by line and keeps a short tail.
func (s *Supervisor) capture(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		s.log().Debug("process output", "name", s.config.Name, "stream", stream, "line", line)

		s.mu.Lock()
		s.tail = append(s.tail, line)
		if len(s.tail) > outputTailLines {
			s.tail = s.tail[len(s.tail)-outputTailLines:]
		}
		s.mu.Unlock()
	}
}

// wait blocks until the process exits, a stop is requested, or health
// checks fail maxHealthFailures times in a row.
func (s *Supervisor) wait(ctx context.Context, stop <-chan struct{}, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	var tick <-chan time.Time
	if s.config.HealthCheckFunc != nil {
		ticker := time.NewTicker(s.config.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-stop:
			s.terminate(cmd, exitCh)
			return nil

		case <-ctx.Done():
			s.terminate(cmd, exitCh)
			return ctx.Err()

		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					s.log().Info("health check recovered", "name", s.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.log().Warn("health check failed", "name", s.config.Name, "error", err, "consecutive_failures", failures)
			if failures < maxHealthFailures {
				continue
			}

			s.log().Error("health check failed repeatedly, killing process", "name", s.config.Name)
			s.signalGroup(cmd, syscall.SIGKILL)
			<-exitCh
			return fmt.Errorf("%w: %d consecutive failures, last: %w", ErrUnhealthy, failures, err)
		}
	}
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// after GracefulTimeout.
func (s *Supervisor) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	s.log().Info("stopping process", "name", s.config.Name, "pid", cmd.Process.Pid)
	s.signalGroup(cmd, syscall.SIGTERM)

	select {
	case <-exitCh:
		return
	case <-time.After(s.config.GracefulTimeout):
		s.log().Warn("graceful shutdown timeout, sending SIGKILL", "name", s.config.Name, "timeout", s.config.GracefulTimeout)
	}

	s.signalGroup(cmd, syscall.SIGKILL)
	<-exitCh
}

// supervise waits on the running process and restarts it as configured.
func (s *Supervisor) supervise(ctx context.Context, stop <-chan struct{}, cmd *exec.Cmd) {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	defer close(done)

	for {
		err := s.wait(ctx, stop, cmd)

		s.mu.RLock()
		stopRequested := s.stopRequested || ctx.Err() != nil
		uptime := time.Since(s.startTime)
		s.mu.RUnlock()

		if stopRequested {
			s.setStatus(StatusStopped, nil)
			s.log().Info("process stopped", "name", s.config.Name)
			s.notifyExit(nil)
			return
		}

		if err == nil {
			err = ErrUnexpectedExit
		}
		s.log().Warn("process exited unexpectedly", "name", s.config.Name, "error", err, "uptime", uptime)
		s.setStatus(StatusFailed, err)
		s.notifyExit(err)

		if !s.config.RestartOnFailure {
			return
		}

		delay, attempt, ok := s.nextRestart(uptime)
		if !ok {
			s.log().Error("max restart attempts reached", "name", s.config.Name, "attempts", attempt-1)
			return
		}

		s.setStatus(StatusBackoff, err)
		s.log().Info("restarting process", "name", s.config.Name, "attempt", attempt, "delay", delay)

		for {
			select {
			case <-ctx.Done():
				s.setStatus(StatusStopped, nil)
				return
			case <-stop:
				s.setStatus(StatusStopped, nil)
				return
			case <-time.After(delay):
			}

			next, launchErr := s.launch()
			if launchErr == nil {
				cmd = next
				break
			}

			s.log().Error("failed to restart process", "name", s.config.Name, "error", launchErr)
			s.setStatus(StatusBackoff, launchErr)
			if delay, attempt, ok = s.nextRestart(0); !ok {
				s.setStatus(StatusFailed, launchErr)
				return
			}
		}
	}
}

// nextRestart advances the backoff. A run that lasted at least
// StableThreshold resets it. It reports false once MaxRestartAttempts is
// exceeded.
func (s *Supervisor) nextRestart(uptime time.Duration) (time.Duration, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uptime >= s.config.StableThreshold {
		s.attempt = 0
	}
	s.attempt++
	s.restarts++

	if s.config.MaxRestartAttempts > 0 && s.attempt > s.config.MaxRestartAttempts {
		return 0, s.attempt, false
	}

	delay := s.config.RestartDelay
	for i := 1; i < s.attempt && delay < s.config.MaxRestartDelay; i++ {
		delay *= 2
	}
	if delay > s.config.MaxRestartDelay {
		delay = s.config.MaxRestartDelay
	}
	return delay, s.attempt, true
}

// Stop terminates the process group gracefully, escalating to SIGKILL
// after GracefulTimeout, and waits for supervision to end. It is safe to
// call more than once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	done, stop := s.done, s.stop
	if done == nil {
		s.mu.Unlock()
		return
	}
	if !s.stopRequested {
		s.stopRequested = true
		close(stop)
	}
	s.mu.Unlock()

	<-done
}

// signalGroup sends sig to the process group created via Setpgid.
func (s *Supervisor) signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log().Warn("signalling process group failed", "name", s.config.Name, "signal", sig.String(), "error", err)
	}
}

func (s *Supervisor) setStatus(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if err != nil {
		s.lastError = err
	}
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Supervisor) notifyExit(err error) {
	if s.config.OnExit != nil {
		s.config.OnExit(err)
	}
}

func (s *Supervisor) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Status returns the current status of the supervised process.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning returns true if the process is currently running.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// RecentOutput returns the last lines the process wrote, oldest first.
func (s *Supervisor) RecentOutput() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.tail))
	copy(out, s.tail)
	return out
}

// Stats describes a supervised process for monitoring.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:     s.config.Name,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
		stats.Uptime = time.Since(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
