package settings

import "errors"

var (
	// ErrNotFound is returned by a Repository when a key has never been written.
	ErrNotFound = errors.New("settings: not found")

	// ErrInvalidBroker is returned when broker settings fail validation.
	ErrInvalidBroker = errors.New("settings: invalid broker")
)
