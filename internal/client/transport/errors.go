package transport

import "errors"

var (
	// ErrUnavailable means the server could not be reached at all: no
	// response was received, so the outcome of the request is unknown.
	ErrUnavailable = errors.New("server unavailable")

	// ErrUnauthorized means the device token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
)
