package device

import "errors"

var (
	// ErrUnavailable means the device is not attached, offline, or
	// unauthorized.
	ErrUnavailable = errors.New("device unavailable")

	// ErrTimeout means a protocol command exceeded its deadline.
	ErrTimeout = errors.New("device command timed out")

	// ErrUnsupported means the backend protocol cannot express the
	// requested operation.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrAmbiguousForeground means foreground detection found zero or
	// multiple candidate applications.
	ErrAmbiguousForeground = errors.New("ambiguous foreground state")
)
