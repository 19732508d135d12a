// Package influxdb writes adbmux metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks.
//
// # Measurements
//
//   - adb_devices: online, offline and emulator counts after each poll
//   - adb_polls: watch loop refresh duration, changeset size and result
//   - adb_command_runs: per-device command duration, output size and result
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePoll(poll.Duration, poll.Changeset.Len(), poll.Err != nil, poll.Started)
//
// # Error Handling
//
// Writes never block and never return errors; failed batches are delivered
// to the SetOnError callback wrapped in ErrWriteFailed. Connection and
// health check errors are returned directly.
package influxdb
