package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist or is deleted.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device with an ID that already exists.
	ErrExists = errors.New("device: already exists")

	// ErrNoCapabilities is returned when validating a device with an empty
	// capability set. A device with no capabilities cannot be translated.
	ErrNoCapabilities = errors.New("device: capability set is empty")

	// ErrInvalidName is returned when a device name is empty.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidController is returned when the controller ID is empty.
	ErrInvalidController = errors.New("device: invalid controller id")
)
