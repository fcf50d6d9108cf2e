package device

import "errors"

var (
	// ErrDeviceNotFound is returned when no device has the given mac.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a setting lacks a mac.
	ErrInvalidDevice = errors.New("device: invalid")
)
