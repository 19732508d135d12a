package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/adbmux/internal/device"
)

// Logger defines the logging interface used by the runner.
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

// Executor runs one user command against one device.
// adb.Bridge satisfies it.
type Executor interface {
	Exec(ctx context.Context, command, serial string) (string, error)
}

// DeviceSource supplies the devices a command should run on.
// device.Registry satisfies it.
type DeviceSource interface {
	Online() []device.Record
	Offline() []device.Record
}

// Reporter receives each result as soon as its device finishes.
// Calls are serialised, so a Reporter needs no locking of its own.
type Reporter func(Result)

// Reporters combines several reporters into one that calls each in order.
// Nil entries are skipped.
func Reporters(reporters ...Reporter) Reporter {
	var live []Reporter
	for _, r := range reporters {
		if r != nil {
			live = append(live, r)
		}
	}
	return func(res Result) {
		for _, r := range live {
			r(res)
		}
	}
}

// Result is the outcome of running a command on one device.
type Result struct {
	RunID    string
	Device   device.Record
	Command  string
	Output   string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// OK reports whether the command succeeded on the device.
func (r Result) OK() bool {
	return r.Err == nil
}

// Batch is the outcome of running a command across a set of devices.
type Batch struct {
	RunID    string
	Command  string
	Results  []Result
	Started  time.Time
	Duration time.Duration
}

// Failed returns the results whose command failed, in device order.
func (b Batch) Failed() []Result {
	var failed []Result
	for _, r := range b.Results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err summarises the batch: nil when every device succeeded, otherwise an
// error wrapping ErrCommandFailed that names the failed device count.
func (b Batch) Err() error {
	failed := len(b.Failed())
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%w on %d of %d devices", ErrCommandFailed, failed, len(b.Results))
}

// Options configures a Runner.
type Options struct {
	// Parallelism bounds how many devices run the command at once.
	// Values below 2 run devices one after another.
	Parallelism int

	// Announce, when set, is called with the target devices before a run
	// starts.
	Announce func([]device.Record)

	// Reporter, when set, is called with every result as it completes.
	Reporter Reporter

	Logger Logger
}

// Runner executes commands across devices.
//
// One device's failure never prevents the others from running. Results are
// always returned in the order the devices were given, whatever order they
// completed in.
type Runner struct {
	exec        Executor
	parallelism int
	announce    func([]device.Record)
	reporter    Reporter
	reportMu    sync.Mutex
	logger      Logger
}

// New creates a Runner.
func New(exec Executor, opts Options) (*Runner, error) {
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Runner{
		exec:        exec,
		parallelism: opts.Parallelism,
		announce:    opts.Announce,
		reporter:    opts.Reporter,
		logger:      opts.Logger,
	}, nil
}

// Parallelism returns the configured concurrency bound.
func (r *Runner) Parallelism() int {
	return r.parallelism
}

// ExecuteOnline runs command on every online device from src.
//
// When no device is online it runs nothing and returns an *OfflineError
// listing the unusable devices, or ErrNoDevices when adb reports none.
func (r *Runner) ExecuteOnline(ctx context.Context, src DeviceSource, command string) (Batch, error) {
	online := src.Online()
	if len(online) == 0 {
		if offline := src.Offline(); len(offline) > 0 {
			return Batch{Command: command}, &OfflineError{Devices: offline}
		}
		return Batch{Command: command}, ErrNoDevices
	}
	return r.Run(ctx, command, online), nil
}

// Run executes command on each of devices.
//
// Devices whose turn comes after ctx is done are not contacted; their
// result carries the context error.
func (r *Runner) Run(ctx context.Context, command string, devices []device.Record) Batch {
	batch := Batch{
		RunID:   uuid.NewString(),
		Command: command,
		Results: make([]Result, len(devices)),
		Started: time.Now(),
	}

	r.logger.Info("running command",
		"run_id", batch.RunID,
		"command", command,
		"devices", len(devices),
		"parallelism", r.parallelism,
	)

	if r.announce != nil {
		r.announce(devices)
	}

	var g errgroup.Group
	g.SetLimit(r.parallelism)

	for i, d := range devices {
		g.Go(func() error {
			res := r.runOne(ctx, batch.RunID, command, d)
			batch.Results[i] = res
			r.report(res)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // per-device errors live in the results

	batch.Duration = time.Since(batch.Started)

	if err := batch.Err(); err != nil {
		r.logger.Warn("command finished with failures", "run_id", batch.RunID, "error", err)
	} else {
		r.logger.Info("command finished", "run_id", batch.RunID, "duration", batch.Duration)
	}
	return batch
}

// Rerun returns a change listener that runs command again on the current
// online devices whenever a changeset reports an added or changed device.
// Removals alone never trigger a run. done, when set, receives each batch.
func (r *Runner) Rerun(ctx context.Context, src DeviceSource, command string, done func(Batch, error)) func(device.Changeset) {
	return func(cs device.Changeset) {
		if !cs.HasArrivals() {
			return
		}
		r.logger.Debug("device arrivals, running command again",
			"added", len(cs.Added),
			"changed", len(cs.Changed),
		)
		batch, err := r.ExecuteOnline(ctx, src, command)
		if done != nil {
			done(batch, err)
		}
	}
}

func (r *Runner) runOne(ctx context.Context, runID, command string, d device.Record) Result {
	res := Result{
		RunID:   runID,
		Device:  d,
		Command: command,
		Started: time.Now(),
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	res.Output, res.Err = r.exec.Exec(ctx, command, d.ID)
	res.Duration = time.Since(res.Started)

	if res.Err != nil {
		r.logger.Debug("command failed on device", "run_id", runID, "device_id", d.ID, "error", res.Err)
	}
	return res
}

func (r *Runner) report(res Result) {
	if r.reporter == nil {
		return
	}
	r.reportMu.Lock()
	defer r.reportMu.Unlock()
	r.reporter(res)
}
