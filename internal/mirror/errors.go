package mirror

import "errors"

var (
	// ErrUnknownDevice indicates the mac is not in the registry.
	ErrUnknownDevice = errors.New("mirror: device not found")

	// ErrUnsupportedDevice indicates the device has no gateway counterpart.
	ErrUnsupportedDevice = errors.New("mirror: device not supported")

	// ErrNotMirrored indicates the gateway has no copy of the device.
	ErrNotMirrored = errors.New("mirror: device not synced")
)
