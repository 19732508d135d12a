package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/adbmux/internal/device"
)

// Default timing for the watch loop.
const (
	DefaultInterval       = time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

// Logger defines the logging interface used by the watch package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Refresher produces a changeset on demand. *device.Registry implements it.
type Refresher interface {
	Refresh(ctx context.Context) (device.Changeset, error)
}

// Listener receives non-empty changesets. It is never called concurrently
// with itself by a single Scheduler.
type Listener func(device.Changeset)

// Poll describes one completed poll of the watch loop.
type Poll struct {
	Changeset device.Changeset
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	// Interval between polls. Default: 1 second.
	Interval time.Duration

	// RefreshTimeout bounds each Refresh call. Default: 10 seconds.
	RefreshTimeout time.Duration

	// OnError is called with every failed refresh. The loop keeps running.
	OnError func(error)

	// OnPoll is called after every poll, successful or not, before the
	// listener. Intended for metrics.
	OnPoll func(Poll)

	// Logger for loop diagnostics. Nil disables logging.
	Logger Logger
}

// Scheduler polls a Refresher on a fixed interval and hands every non-empty
// changeset to a listener exactly once.
//
// Polls never overlap: a tick that fires while a poll is still running is
// dropped. Stop cancels an in-flight poll and discards its result.
type Scheduler struct {
	refresher      Refresher
	interval       time.Duration
	refreshTimeout time.Duration
	onError        func(error)
	onPoll         func(Poll)
	logger         Logger

	mu       sync.Mutex
	listener Listener
	cancel   context.CancelFunc
	done     chan struct{} // Closed by the loop when it exits; nil when never started or stopped
	stopping bool          // Stop has cancelled the loop and is waiting on done
}

// NewScheduler creates a scheduler that is not yet running.
//
// Parameters:
//   - refresher: Source of changesets, normally a *device.Registry
//   - opts: Timing, callbacks and logger
//
// Returns:
//   - *Scheduler: Ready to start
//   - error: ErrNilRefresher or ErrInvalidInterval
func NewScheduler(refresher Refresher, opts Options) (*Scheduler, error) {
	if refresher == nil {
		return nil, ErrNilRefresher
	}
	if opts.Interval < 0 || opts.RefreshTimeout < 0 {
		return nil, fmt.Errorf("%w: interval %s, refresh timeout %s",
			ErrInvalidInterval, opts.Interval, opts.RefreshTimeout)
	}

	s := &Scheduler{
		refresher:      refresher,
		interval:       opts.Interval,
		refreshTimeout: opts.RefreshTimeout,
		onError:        opts.OnError,
		onPoll:         opts.OnPoll,
		logger:         opts.Logger,
	}
	if s.interval == 0 {
		s.interval = DefaultInterval
	}
	if s.refreshTimeout == 0 {
		s.refreshTimeout = DefaultRefreshTimeout
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// Start begins polling and delivers changesets to listener.
//
// If the scheduler is already running, the listener is replaced and no
// second loop is started. If a Stop is in progress, Start waits for the old
// loop to exit first, so one listener never sees overlapping calls. The loop
// also stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.stopping {
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
		if s.done == done {
			s.clearLocked()
		}
	}

	if s.done != nil && !isClosed(s.done) {
		s.listener = listener
		s.logger.Debug("watch loop already running, listener replaced")
		return nil
	}

	s.listener = listener
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(loopCtx, done)

	s.logger.Info("watch loop started", "interval", s.interval)
	return nil
}

// Stop halts the loop and waits for it to exit. After Stop returns the
// listener is not invoked again, and this holds for every caller when Stop
// is called concurrently. Calling Stop more than once, or on a scheduler
// that was never started, is a no-op.
//
// Stop must not be called from within the listener.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	if done == nil {
		s.mu.Unlock()
		return
	}
	first := !s.stopping
	s.stopping = true
	// Cancelled under mu so poll's pre-delivery check cannot miss it.
	cancel()
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	if s.done == done {
		s.clearLocked()
	}
	s.mu.Unlock()

	if first {
		s.logger.Info("watch loop stopped")
	}
}

// clearLocked forgets the exited loop. s.mu must be held.
func (s *Scheduler) clearLocked() {
	s.cancel, s.done, s.stopping = nil, nil, false
}

// Running reports whether the loop is active and not being stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && !isClosed(s.done) && !s.stopping
}

// Interval returns the polling interval in use.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// run is the loop goroutine.
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll performs one refresh and delivers the result.
func (s *Scheduler) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	started := time.Now()
	cs, err := s.refresher.Refresh(pollCtx)

	// Stopped while the refresh was in flight.
	if ctx.Err() != nil {
		return
	}

	if s.onPoll != nil {
		s.onPoll(Poll{Changeset: cs, Err: err, Started: started, Duration: time.Since(started)})
	}

	if err != nil {
		s.logger.Warn("device refresh failed", "error", err)
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	if cs.Empty() {
		return
	}

	// Stop may have landed during OnPoll; its result is discarded too.
	s.mu.Lock()
	listener := s.listener
	stopped := ctx.Err() != nil
	s.mu.Unlock()
	if stopped {
		return
	}

	s.deliver(listener, cs)
}

// deliver invokes the listener, containing any panic so the loop survives.
func (s *Scheduler) deliver(listener Listener, cs device.Changeset) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watch listener panicked", "panic", r)
		}
	}()
	listener(cs)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
