package watch

import "errors"

var (
	// ErrNilRefresher is returned when a Scheduler is built without a refresher.
	ErrNilRefresher = errors.New("watch: nil refresher")

	// ErrNilListener is returned when Start is called without a listener.
	ErrNilListener = errors.New("watch: nil listener")

	// ErrInvalidInterval is returned for negative timing options.
	ErrInvalidInterval = errors.New("watch: invalid interval")
)
