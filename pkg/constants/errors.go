package constants

import "errors"

// Errors
var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNoValidEndpoint    = errors.New("no valid database endpoint found")
	ErrDriverClosed       = errors.New("driver is closed")
	ErrDriverUnconfigured = errors.New("driver is not configured")
	ErrUnknownScheme      = errors.New("no driver registered for URI scheme")
)
var (
	ErrIDInUse         = errors.New("id already in use")
	ErrTimeout         = errors.New("timeout")
	ErrPoolClosed      = errors.New("session pool is closed")
	ErrNoEndpoint      = errors.New("no endpoint configured")
	ErrInvalidBookmark = errors.New("invalid bookmark token")
)
