package exec

import "errors"

var (
	// ErrNoPrice means the venue ticker had no usable price for the
	// requested side.
	ErrNoPrice = errors.New("exec: no expected price available")
	// ErrDisconnected means the connector is not connected to the venue.
	ErrDisconnected = errors.New("exec: connector disconnected")
)
