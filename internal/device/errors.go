package device

import "errors"

var (
	// ErrDeviceNotFound means no catalog entry has the requested ID.
	ErrDeviceNotFound = errors.New("device: no such device")

	// ErrDeviceExists is returned by Repository.Create for a taken ID.
	// Registry.AddDevice turns it into an update.
	ErrDeviceExists = errors.New("device: id already in catalog")

	// ErrInvalidDevice wraps every ValidateDevice failure.
	ErrInvalidDevice = errors.New("device: invalid device")
)
