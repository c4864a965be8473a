package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrNotConnected is returned by publishing operations while the broker
	// is unreachable. It also matches mqtt.ErrNotConnected via errors.Is.
	ErrNotConnected = errors.New("bridge: not connected to broker")

	// ErrEncodePayload is returned when an outbound payload cannot be JSON encoded.
	ErrEncodePayload = errors.New("bridge: cannot encode payload")
)
