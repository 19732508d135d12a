package runner

import (
	"errors"
	"fmt"

	"github.com/nerrad567/adbmux/internal/device"
)

// Domain-specific errors for command execution.
var (
	// ErrNoDevices is returned when adb reports no devices at all.
	ErrNoDevices = errors.New("runner: no devices detected")

	// ErrOnlyOfflineDevices is returned when every known device is offline
	// or otherwise unusable. The concrete error is *OfflineError.
	ErrOnlyOfflineDevices = errors.New("runner: only offline devices detected")

	// ErrCommandFailed is returned by Batch.Err when at least one device
	// failed to run the command.
	ErrCommandFailed = errors.New("runner: command failed")

	// ErrNilExecutor is returned when a runner is created without an executor.
	ErrNilExecutor = errors.New("runner: executor is required")
)

// OfflineError lists the devices that were found but could not be used.
type OfflineError struct {
	Devices []device.Record
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("%s (%d)", ErrOnlyOfflineDevices, len(e.Devices))
}

// Unwrap lets errors.Is match ErrOnlyOfflineDevices.
func (e *OfflineError) Unwrap() error {
	return ErrOnlyOfflineDevices
}
