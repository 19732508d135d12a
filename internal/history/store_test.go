package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/infrastructure/database"
	"github.com/nerrad567/adbmux/internal/runner"
	_ "github.com/nerrad567/adbmux/migrations"
)

var (
	pixel    = device.Record{ID: "abcde12345", Status: device.StatusDevice, Product: "panther", Model: "Pixel_7", Device: "panther"}
	pixelOff = device.Record{ID: "abcde12345", Status: device.StatusOffline}
	emulator = device.Record{ID: "emulator-5554", Status: device.StatusEmulator, Model: "sdk_gphone64"}
)

// newTestStore opens a migrated database in a temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "history.db"), WALMode: true})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewStore(db)
}

// clock returns a store clock that advances one second per call.
func clock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestRecordChangeset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cs := device.Changeset{
		Added:   []device.Record{emulator},
		Changed: []device.Record{pixel},
	}
	if err := s.RecordChangeset(ctx, cs); err != nil {
		t.Fatalf("RecordChangeset() error = %v", err)
	}

	events, err := s.DeviceEvents(ctx, pixel.ID, 10)
	if err != nil {
		t.Fatalf("DeviceEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	e := events[0]
	if e.Kind != EventChanged {
		t.Errorf("Kind = %q, want %q", e.Kind, EventChanged)
	}
	if !e.Record().Equal(pixel) {
		t.Errorf("Record() = %+v, want %+v", e.Record(), pixel)
	}
	if e.RecordedAt.IsZero() {
		t.Error("RecordedAt is zero")
	}

	all, err := s.Events(ctx, 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(Events()) = %d, want 2", len(all))
	}
}

func TestRecordChangeset_Empty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordChangeset(ctx, device.Changeset{}); err != nil {
		t.Fatalf("RecordChangeset() error = %v", err)
	}
	events, err := s.Events(ctx, 10)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len(Events()) = %d, want 0", len(events))
	}
}

func TestDeviceEvents_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	s.now = clock(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	steps := []device.Changeset{
		{Added: []device.Record{pixel}},
		{Changed: []device.Record{pixelOff}},
		{Removed: []device.Record{pixelOff}},
	}
	for _, cs := range steps {
		if err := s.RecordChangeset(ctx, cs); err != nil {
			t.Fatalf("RecordChangeset() error = %v", err)
		}
	}

	events, err := s.DeviceEvents(ctx, pixel.ID, 2)
	if err != nil {
		t.Fatalf("DeviceEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (limit)", len(events))
	}
	if events[0].Kind != EventRemoved || events[1].Kind != EventChanged {
		t.Errorf("kinds = %s, %s; want removed, changed", events[0].Kind, events[1].Kind)
	}
	if events[0].Status != device.StatusOffline {
		t.Errorf("removed event status = %q, want last known %q", events[0].Status, device.StatusOffline)
	}
}

func TestDeviceEvents_RequiresID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.DeviceEvents(context.Background(), "", 10); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("DeviceEvents(\"\") error = %v, want ErrDeviceIDRequired", err)
	}
}

func TestRecordResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	results := []runner.Result{
		{RunID: "run-1", Device: pixel, Command: "install app.apk", Output: "Success\n", Started: started, Duration: 1500 * time.Millisecond},
		{RunID: "run-1", Device: emulator, Command: "install app.apk", Err: errors.New("adb install: non-zero exit"), Started: started.Add(time.Second)},
	}
	for _, res := range results {
		if err := s.RecordResult(ctx, res); err != nil {
			t.Fatalf("RecordResult() error = %v", err)
		}
	}

	runs, err := s.RunResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunResults() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}

	ok := runs[0]
	if !ok.OK || ok.DeviceID != pixel.ID || ok.Model != "Pixel_7" {
		t.Errorf("runs[0] = %+v", ok)
	}
	if ok.OutputBytes != len("Success\n") {
		t.Errorf("OutputBytes = %d, want %d", ok.OutputBytes, len("Success\n"))
	}
	if ok.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", ok.Duration)
	}
	if !ok.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", ok.StartedAt, started)
	}

	failed := runs[1]
	if failed.OK || failed.Error != "adb install: non-zero exit" {
		t.Errorf("runs[1] = %+v, want failure with error text", failed)
	}

	recent, err := s.Runs(ctx, 1)
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(recent) != 1 || recent[0].DeviceID != emulator.ID {
		t.Errorf("Runs(1) = %+v, want the newest run only", recent)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	if err := s.RecordChangeset(ctx, device.Changeset{Added: []device.Record{pixel}}); err != nil {
		t.Fatalf("RecordChangeset() error = %v", err)
	}
	if err := s.RecordResult(ctx, runner.Result{RunID: "old", Device: pixel, Command: "shell id", Started: base}); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	s.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	if err := s.RecordChangeset(ctx, device.Changeset{Added: []device.Record{emulator}}); err != nil {
		t.Fatalf("RecordChangeset() error = %v", err)
	}

	if _, err := s.Prune(ctx, 0); !errors.Is(err, ErrInvalidRetention) {
		t.Errorf("Prune(0) error = %v, want ErrInvalidRetention", err)
	}

	removed, err := s.Prune(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d rows, want 2", removed)
	}

	events, err := s.Events(ctx, 10)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 || events[0].DeviceID != emulator.ID {
		t.Errorf("remaining events = %+v, want only %s", events, emulator.ID)
	}
}

func TestListenerAndReporter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Listener()(device.Changeset{Added: []device.Record{pixel}})
	s.Reporter()(runner.Result{RunID: "run-2", Device: pixel, Command: "shell id", Output: "uid=2000\n"})

	events, err := s.DeviceEvents(ctx, pixel.ID, 10)
	if err != nil {
		t.Fatalf("DeviceEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("listener recorded %d events, want 1", len(events))
	}

	runs, err := s.RunResults(ctx, "run-2")
	if err != nil {
		t.Fatalf("RunResults() error = %v", err)
	}
	if len(runs) != 1 || runs[0].StartedAt.IsZero() {
		t.Errorf("reporter recorded %+v, want one run with a start time", runs)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultLimit},
		{-5, defaultLimit},
		{10, 10},
		{maxLimit + 1, maxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
