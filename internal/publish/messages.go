package publish

import (
	"time"

	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/runner"
)

// ChangeMessage is published on <prefix>/devices/changes for every
// non-empty changeset.
type ChangeMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	Added     []device.Record `json:"added"`
	Removed   []device.Record `json:"removed"`
	Changed   []device.Record `json:"changed"`
}

// StateMessage is the retained state of one device on
// <prefix>/devices/{id}/state.
type StateMessage struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	Status    device.Status `json:"status"`
	Online    bool          `json:"online"`
	Product   string        `json:"product,omitempty"`
	Model     string        `json:"model,omitempty"`
	Device    string        `json:"device,omitempty"`
}

// ResultMessage reports one device's command result on
// <prefix>/commands/results. Output is not included; it can be large and
// is already printed to the terminal.
type ResultMessage struct {
	RunID       string    `json:"run_id"`
	DeviceID    string    `json:"device_id"`
	Model       string    `json:"model,omitempty"`
	Command     string    `json:"command"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	OutputBytes int       `json:"output_bytes"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
}

// NewChangeMessage creates a change event. Nil lists become empty arrays
// so subscribers never see null.
func NewChangeMessage(cs device.Changeset, now time.Time) ChangeMessage {
	return ChangeMessage{
		Timestamp: now.UTC(),
		Added:     orEmpty(cs.Added),
		Removed:   orEmpty(cs.Removed),
		Changed:   orEmpty(cs.Changed),
	}
}

// NewStateMessage creates the retained state for rec.
func NewStateMessage(rec device.Record, now time.Time) StateMessage {
	return StateMessage{
		DeviceID:  rec.ID,
		Timestamp: now.UTC(),
		Status:    rec.Status,
		Online:    rec.IsOnline(),
		Product:   rec.Product,
		Model:     rec.Model,
		Device:    rec.Device,
	}
}

// NewResultMessage summarises a command result.
func NewResultMessage(res runner.Result) ResultMessage {
	msg := ResultMessage{
		RunID:       res.RunID,
		DeviceID:    res.Device.ID,
		Model:       res.Device.Model,
		Command:     res.Command,
		OK:          res.OK(),
		OutputBytes: len(res.Output),
		DurationMS:  res.Duration.Milliseconds(),
		StartedAt:   res.Started.UTC(),
	}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	return msg
}

func orEmpty(records []device.Record) []device.Record {
	if records == nil {
		return []device.Record{}
	}
	return records
}
