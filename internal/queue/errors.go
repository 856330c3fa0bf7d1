package queue

import "errors"

// Validation errors returned synchronously from queue operations. Runtime
// upload failures never surface here; they settle the affected task instead.
var (
	ErrInvalidFile         = errors.New("invalid video file")
	ErrNotFound            = errors.New("job not found")
	ErrInvalidState        = errors.New("operation not allowed in current job state")
	ErrInvalidTransition   = errors.New("invalid task transition")
	ErrNoPlatformsSelected = errors.New("no platforms selected")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrTaskNotFound        = errors.New("platform task not found")
	ErrAlreadyDispatched   = errors.New("job already dispatched")
)
