package history

import (
	"time"

	"github.com/nerrad567/adbmux/internal/device"
)

// EventKind says how a device changed between two polls.
type EventKind string

// Event kinds, one per changeset list.
const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventChanged EventKind = "changed"
)

// Event is one recorded device change.
//
// For removals the fields hold the device's last known values.
type Event struct {
	ID         int64         `json:"id"`
	DeviceID   string        `json:"device_id"`
	Kind       EventKind     `json:"kind"`
	Status     device.Status `json:"status"`
	Product    string        `json:"product,omitempty"`
	Model      string        `json:"model,omitempty"`
	Device     string        `json:"device,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Record returns the device record the event captured.
func (e Event) Record() device.Record {
	return device.Record{
		ID:      e.DeviceID,
		Status:  e.Status,
		Product: e.Product,
		Model:   e.Model,
		Device:  e.Device,
	}
}

// Run is one command executed on one device.
type Run struct {
	ID          int64         `json:"id"`
	RunID       string        `json:"run_id"`
	DeviceID    string        `json:"device_id"`
	Model       string        `json:"model,omitempty"`
	Command     string        `json:"command"`
	OK          bool          `json:"ok"`
	Error       string        `json:"error,omitempty"`
	OutputBytes int           `json:"output_bytes"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
}
