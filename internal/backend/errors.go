package backend

import "errors"

// Sentinel errors for the backend package.
var (
	// ErrUnknownBackend is returned when no backend is registered under a name.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrTaskNotFound is returned when the client has no record of a task.
	ErrTaskNotFound = errors.New("task not found in client")

	// ErrTaskFailed is returned when the client reports a task as failed.
	ErrTaskFailed = errors.New("task failed in client")

	// ErrClientUnavailable is returned when the client cannot be reached.
	ErrClientUnavailable = errors.New("download client unavailable")

	// ErrInvalidAPIKey is returned when the client rejects our credentials.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrNotSupported is returned for operations a backend cannot perform.
	ErrNotSupported = errors.New("operation not supported by backend")
)
