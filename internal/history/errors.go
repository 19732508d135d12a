package history

import "errors"

var (
	// ErrDeviceIDRequired is returned when a query needs a device id.
	ErrDeviceIDRequired = errors.New("history: device id is required")

	// ErrInvalidRetention is returned by Prune for non-positive durations.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)
