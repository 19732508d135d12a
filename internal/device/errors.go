package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrRefreshFailed) {
//	    // previous snapshot is still in place
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the current snapshot.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrRefreshFailed wraps a failure of the device-list source during Refresh.
	ErrRefreshFailed = errors.New("device: refresh failed")

	// ErrNilSource is returned when a Registry is built without a source.
	ErrNilSource = errors.New("device: nil source")
)
