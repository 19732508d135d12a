package publish

import "errors"

var (
	// ErrNilClient is returned when a publisher is created without a client.
	ErrNilClient = errors.New("publish: client is nil")

	// ErrNotConnected is returned when the client is offline. Retained state
	// is re-sent on reconnect, so callers may treat it as transient.
	ErrNotConnected = errors.New("publish: client not connected")
)
