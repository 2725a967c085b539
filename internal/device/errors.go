package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding a device whose ID is already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device definition fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidID is returned when a supplied device ID has a bad format.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidChannel is returned when an input or output channel name is malformed.
	ErrInvalidChannel = errors.New("device: invalid channel")

	// ErrEndpointInfoMissing is returned when the registry has no endpoint info row.
	ErrEndpointInfoMissing = errors.New("device: endpoint info missing")
)
