package process

import "errors"

// Errors returned by Run and Supervisor. Check with errors.Is.
var (
	// ErrStart means the binary could not be launched at all.
	ErrStart = errors.New("process: failed to start")

	// ErrTimeout means the deadline passed and the process was killed.
	ErrTimeout = errors.New("process: timed out")

	// ErrCancelled means the caller's context was cancelled mid-run.
	ErrCancelled = errors.New("process: cancelled")

	// ErrNonZeroExit means the process ran and reported failure.
	ErrNonZeroExit = errors.New("process: non-zero exit")

	// ErrAlreadyRunning is returned by Start on an active Supervisor.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrUnhealthy means the health check failed repeatedly and the
	// process was killed.
	ErrUnhealthy = errors.New("process: health check failed")

	// ErrUnexpectedExit means a supervised process exited cleanly without
	// being asked to.
	ErrUnexpectedExit = errors.New("process: exited unexpectedly")
)
