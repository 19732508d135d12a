package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// Source produces the raw text of an `adb devices -l` report.
// adb.Bridge.ListDevices satisfies it.
type Source func(ctx context.Context) (string, error)

// Registry holds the current device snapshot and turns each refresh into a
// changeset.
//
// Refreshes are serialised: two concurrent Refresh calls never interleave
// between reading the old snapshot and storing the new one. Readers get
// copies and never observe a partially built snapshot.
//
// All public methods are thread-safe.
type Registry struct {
	source Source
	logger Logger

	refreshMu sync.Mutex // Serialises Refresh

	mu          sync.RWMutex // Protects the fields below
	snapshot    Snapshot
	lastRefresh time.Time
	refreshes   int
	failures    int
	lastErr     error
}

// NewRegistry creates a registry and performs the baseline refresh.
//
// No changeset is produced for the baseline. If the source fails, no
// registry is returned and the source's error is passed back wrapped.
//
// Parameters:
//   - ctx: Context for the baseline source call
//   - source: Produces the device report
//   - logger: Receives parse diagnostics; nil means no logging
//
// Returns:
//   - *Registry: Registry holding the baseline snapshot
//   - error: ErrNilSource, or the wrapped source failure
func NewRegistry(ctx context.Context, source Source, logger Logger) (*Registry, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Registry{
		source: source,
		logger: logger,
	}

	if _, err := r.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("baseline device list: %w", err)
	}

	r.logger.Info("device registry ready", "devices", r.Count())
	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	r.logger = logger
}

// Refresh fetches the device report, replaces the snapshot and returns the
// differences from the previous one.
//
// On failure the previous snapshot stays in place and the error wraps
// ErrRefreshFailed together with the source error. A refresh whose context
// is cancelled while the source runs is also discarded.
func (r *Registry) Refresh(ctx context.Context) (Changeset, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	raw, err := r.source(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.mu.Lock()
		r.failures++
		r.lastErr = err
		r.mu.Unlock()
		return Changeset{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	next, skips := ParseDeviceList(raw)
	for _, s := range skips {
		r.logger.Debug("skipping unrecognised device line", "line", s.Line, "text", s.Text)
	}

	r.mu.Lock()
	prev := r.snapshot
	r.snapshot = next
	r.lastRefresh = time.Now().UTC()
	r.refreshes++
	r.lastErr = nil
	r.mu.Unlock()

	cs := Diff(prev, next)
	if !cs.Empty() {
		r.logger.Debug("device changes detected",
			"added", len(cs.Added),
			"removed", len(cs.Removed),
			"changed", len(cs.Changed),
		)
	}
	return cs, nil
}

// Snapshot returns the current snapshot. Snapshots are immutable, so the
// value can be read freely after the call.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// All returns every known device in report order.
func (r *Registry) All() []Record {
	return r.Snapshot().Records()
}

// Online returns devices whose status is device or emulator.
func (r *Registry) Online() []Record {
	return r.Snapshot().Filter(Record.IsOnline)
}

// Offline returns devices that are present but not online.
func (r *Registry) Offline() []Record {
	return r.Snapshot().Filter(func(rec Record) bool { return !rec.IsOnline() })
}

// Get returns the record for id, or ErrDeviceNotFound.
func (r *Registry) Get(id string) (Record, error) {
	rec, ok := r.Snapshot().Get(id)
	if !ok {
		return Record{}, ErrDeviceNotFound
	}
	return rec, nil
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	return r.Snapshot().Len()
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Total       int            `json:"total"`
	Online      int            `json:"online"`
	Offline     int            `json:"offline"`
	Emulators   int            `json:"emulators"`
	ByStatus    map[Status]int `json:"by_status"`
	LastRefresh time.Time      `json:"last_refresh"`
	Refreshes   int            `json:"refreshes"`
	Failures    int            `json:"failures"`
	LastError   string         `json:"last_error,omitempty"`
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:       r.snapshot.Len(),
		ByStatus:    make(map[Status]int),
		LastRefresh: r.lastRefresh,
		Refreshes:   r.refreshes,
		Failures:    r.failures,
	}
	if r.lastErr != nil {
		stats.LastError = r.lastErr.Error()
	}

	for _, rec := range r.snapshot.Records() {
		stats.ByStatus[rec.Status]++
		switch {
		case rec.IsEmulator():
			stats.Emulators++
			stats.Online++
		case rec.IsOnline():
			stats.Online++
		default:
			stats.Offline++
		}
	}

	return stats
}
