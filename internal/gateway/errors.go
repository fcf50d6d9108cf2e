package gateway

import "errors"

// Sentinel errors for gateway operations.
var (
	// ErrUnauthorized indicates the gateway rejected the bearer token.
	ErrUnauthorized = errors.New("gateway: credential invalid")

	// ErrNotFound indicates the gateway does not know the device.
	ErrNotFound = errors.New("gateway: device not found")

	// ErrUnreachable indicates the request never got an answer.
	ErrUnreachable = errors.New("gateway: no response")

	// ErrRequestFailed indicates the gateway answered with an error.
	ErrRequestFailed = errors.New("gateway: request failed")

	// ErrTokenNotGranted indicates the access token has not been granted yet.
	// The user grants it by pressing the gateway's button.
	ErrTokenNotGranted = errors.New("gateway: access token not granted")
)
