package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDeviceID is returned for an ID that cannot form an MQTT
	// topic level.
	ErrInvalidDeviceID = errors.New("device: invalid id")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	ErrInvalidDeviceType = errors.New("device: invalid type")

	// ErrInvalidValue is returned when a commanded value is missing, of the
	// wrong kind, or outside its allowed range.
	ErrInvalidValue = errors.New("device: invalid value")
)
