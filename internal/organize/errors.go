package organize

import "errors"

// Sentinel errors for the organize package.
var (
	// ErrNoMediaFile is returned when the payload has no file of an
	// accepted type.
	ErrNoMediaFile = errors.New("no media file found")

	// ErrDestinationExists is returned when the destination file already exists.
	ErrDestinationExists = errors.New("destination file already exists")

	// ErrCopyFailed wraps filesystem errors during the copy.
	ErrCopyFailed = errors.New("copy failed")

	// ErrPathTraversal is returned when a path would escape its root.
	ErrPathTraversal = errors.New("path escapes root directory")
)
