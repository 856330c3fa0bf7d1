package uploaders

import "errors"

var (
	// ErrAuthentication means stored credentials are absent or were rejected
	// by the remote service.
	ErrAuthentication = errors.New("authentication failed")

	// ErrUnsupported marks a platform that is registered but not yet
	// uploadable, so callers get a uniform error instead of a silent no-op.
	ErrUnsupported = errors.New("platform not supported yet")

	// ErrUnknownPlatform means no adapter is registered under that name.
	ErrUnknownPlatform = errors.New("no adapter registered for platform")
)
