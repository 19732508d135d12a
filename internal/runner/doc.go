// Package runner runs one adb command across many devices.
//
// ExecuteOnline picks the online devices from a device source and runs the
// command on each of them, sequentially or with bounded parallelism. Every
// device yields a Result; a failure on one device is recorded and the rest
// still run. When nothing is online the caller gets ErrNoDevices or an
// *OfflineError so it can tell the user why nothing happened.
//
// Rerun adapts a Runner into a change listener for watch.Scheduler, which
// re-issues the command whenever devices connect or change state.
//
//	r, _ := runner.New(bridge, runner.Options{Parallelism: 4, Reporter: printer.Result})
//	batch, err := r.ExecuteOnline(ctx, registry, "adb install app.apk")
//	switch {
//	case errors.Is(err, runner.ErrNoDevices):
//	case errors.Is(err, runner.ErrOnlyOfflineDevices):
//	default:
//	    return batch.Err()
//	}
package runner
