package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by adbmux.
const (
	MeasurementDevices    = "adb_devices"
	MeasurementPolls      = "adb_polls"
	MeasurementCommandRun = "adb_command_runs"
)

// DeviceCounts is the device population at one moment.
type DeviceCounts struct {
	Online    int
	Offline   int
	Emulators int
}

// WriteDeviceCounts records how many devices are visible.
//
// Example line:
//
//	adb_devices online=3i,offline=1i,emulators=1i,total=4i
func (c *Client) WriteDeviceCounts(counts DeviceCounts, at time.Time) {
	c.writePoint(MeasurementDevices, nil, map[string]interface{}{
		"online":    counts.Online,
		"offline":   counts.Offline,
		"emulators": counts.Emulators,
		"total":     counts.Online + counts.Offline,
	}, at)
}

// WritePoll records one watch loop poll.
//
// Parameters:
//   - duration: How long the refresh took
//   - changes: Number of entries in the resulting changeset
//   - failed: Whether the refresh failed
//   - at: When the poll started
func (c *Client) WritePoll(duration time.Duration, changes int, failed bool, at time.Time) {
	c.writePoint(MeasurementPolls, map[string]string{
		"result": resultTag(!failed),
	}, map[string]interface{}{
		"duration_ms": float64(duration.Microseconds()) / 1000,
		"changes":     changes,
	}, at)
}

// WriteCommandRun records one device's command execution. The device id
// and model are tags; the number of distinct devices on one host is small.
func (c *Client) WriteCommandRun(deviceID, model string, ok bool, duration time.Duration, outputBytes int, at time.Time) {
	tags := map[string]string{
		"device_id": deviceID,
		"result":    resultTag(ok),
	}
	if model != "" {
		tags["model"] = model
	}
	c.writePoint(MeasurementCommandRun, tags, map[string]interface{}{
		"duration_ms":  float64(duration.Microseconds()) / 1000,
		"output_bytes": outputBytes,
	}, at)
}

// writePoint queues one point. The zero time means now.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

func resultTag(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
