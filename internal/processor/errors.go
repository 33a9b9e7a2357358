package processor

import "errors"

// Sentinel errors for the processor package.
var (
	// ErrAlreadyRunning is returned when a pass is requested while one
	// is in flight. Only one pass mutates job state at a time.
	ErrAlreadyRunning = errors.New("processing pass already running")

	// ErrNothingToDo is returned when no outstanding jobs exist.
	ErrNothingToDo = errors.New("no outstanding jobs")
)
