package tasmota

import "errors"

// Domain errors for the Tasmota bridge package.
var (
	// ErrInvalidDiscovery is returned when an announcement is not valid JSON.
	ErrInvalidDiscovery = errors.New("tasmota: invalid discovery payload")

	// ErrMissingMAC is returned when an announcement has no mac. The mac is
	// the device identity, so such messages are rejected outright.
	ErrMissingMAC = errors.New("tasmota: discovery payload has no mac")

	// ErrNotConnected is returned when an operation needs a broker session
	// and none is established.
	ErrNotConnected = errors.New("tasmota: not connected to broker")

	// ErrDeviceNotFound is returned when a mac is not in the registry.
	ErrDeviceNotFound = errors.New("tasmota: device not found")

	// ErrUnsupportedDevice is returned when an operation needs a switch.
	ErrUnsupportedDevice = errors.New("tasmota: device is not a switch")

	// ErrInvalidCommand is returned for a control request the device
	// cannot honour, such as an out-of-range channel.
	ErrInvalidCommand = errors.New("tasmota: invalid command")

	// ErrQueueClosed is returned when work is submitted after shutdown.
	ErrQueueClosed = errors.New("tasmota: dispatch queue closed")
)
