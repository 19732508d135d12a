package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/infrastructure/database"
	"github.com/nerrad567/adbmux/internal/runner"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// writeTimeout bounds a single write made from a listener or reporter.
	writeTimeout = 5 * time.Second

	// timeLayout sorts lexically in time order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Logger defines the logging interface used by the store.
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

// Store persists device changes and command runs in SQLite.
//
// The device_events and command_runs tables are created by the embedded
// migrations; call db.Migrate before using a Store. Timestamps are UTC.
type Store struct {
	db     *database.DB
	now    func() time.Time
	logger Logger
}

// NewStore creates a store on an open, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used by Listener and Reporter.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// RecordChangeset stores one event per device in cs, all with the same
// timestamp, in a single transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - cs: Changeset produced by a registry refresh
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) RecordChangeset(ctx context.Context, cs device.Changeset) error {
	if cs.Empty() {
		return nil
	}
	at := s.now().Format(timeLayout)

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO device_events (device_id, kind, status, product, model, device, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing event insert: %w", err)
		}
		defer stmt.Close()

		groups := []struct {
			kind    EventKind
			records []device.Record
		}{
			{EventAdded, cs.Added},
			{EventRemoved, cs.Removed},
			{EventChanged, cs.Changed},
		}
		for _, g := range groups {
			for _, r := range g.records {
				if _, err := stmt.ExecContext(ctx, r.ID, string(g.kind), string(r.Status), r.Product, r.Model, r.Device, at); err != nil {
					return fmt.Errorf("inserting %s event for %s: %w", g.kind, r.ID, err)
				}
			}
		}
		return nil
	})
}

// RecordResult stores the outcome of one device's command.
func (s *Store) RecordResult(ctx context.Context, res runner.Result) error {
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}
	started := res.Started
	if started.IsZero() {
		started = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_runs (run_id, device_id, model, command, ok, error, output_bytes, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID,
		res.Device.ID,
		res.Device.Model,
		res.Command,
		boolToInt(res.OK()),
		errText,
		len(res.Output),
		res.Duration.Milliseconds(),
		started.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command run: %w", err)
	}
	return nil
}

// DeviceEvents returns the most recent events for one device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device serial
//   - limit: Maximum entries (default 50, max 500)
//
// Returns:
//   - []Event: Events ordered newest first (may be empty)
//   - error: ErrDeviceIDRequired, or the underlying query error
func (s *Store) DeviceEvents(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	return s.queryEvents(ctx, `
		SELECT id, device_id, kind, status, product, model, device, recorded_at
		FROM device_events
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, deviceID, clampLimit(limit))
}

// Events returns the most recent events across all devices, newest first.
func (s *Store) Events(ctx context.Context, limit int) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, device_id, kind, status, product, model, device, recorded_at
		FROM device_events
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, clampLimit(limit))
}

// Runs returns the most recent command runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	return s.queryRuns(ctx, `
		SELECT id, run_id, device_id, model, command, ok, error, output_bytes, duration_ms, started_at
		FROM command_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, clampLimit(limit))
}

// RunResults returns every device row of one batch in the order they were
// recorded.
func (s *Store) RunResults(ctx context.Context, runID string) ([]Run, error) {
	return s.queryRuns(ctx, `
		SELECT id, run_id, device_id, model, command, ok, error, output_bytes, duration_ms, started_at
		FROM command_runs
		WHERE run_id = ?
		ORDER BY id`, runID)
}

// Prune deletes events and runs older than olderThan and returns the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}
	cutoff := s.now().Add(-olderThan).Format(timeLayout)

	var removed int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM device_events WHERE recorded_at < ?",
			"DELETE FROM command_runs WHERE started_at < ?",
		} {
			res, err := tx.ExecContext(ctx, q, cutoff)
			if err != nil {
				return fmt.Errorf("pruning history: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("checking rows affected: %w", err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Listener returns a change listener that records every changeset.
// Write failures are logged; they never stop the watch loop.
func (s *Store) Listener() func(device.Changeset) {
	return func(cs device.Changeset) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.RecordChangeset(ctx, cs); err != nil {
			s.logger.Error("recording device changes", "error", err)
		}
	}
}

// Reporter returns a runner.Reporter that records every result.
func (s *Store) Reporter() runner.Reporter {
	return func(res runner.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.RecordResult(ctx, res); err != nil {
			s.logger.Error("recording command run", "run_id", res.RunID, "device_id", res.Device.ID, "error", err)
		}
	}
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                    Event
			kind, status, atText string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &kind, &status, &e.Product, &e.Model, &e.Device, &atText); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		e.Kind = EventKind(kind)
		e.Status = device.Status(status)
		if e.RecordedAt, err = parseTime(atText); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return events, nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r          Run
			ok         int
			durationMS int64
			startedAt  string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.DeviceID, &r.Model, &r.Command, &ok, &r.Error, &r.OutputBytes, &durationMS, &startedAt); err != nil {
			return nil, fmt.Errorf("scanning command run: %w", err)
		}
		r.OK = ok == 1
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command runs: %w", err)
	}
	return runs, nil
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
