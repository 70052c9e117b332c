package platform

import "errors"

// Domain errors for the platform package, checked with errors.Is().
var (
	// ErrUnavailable covers transport failures, timeouts, and non-2xx
	// responses from the platform. Callers cannot tell these apart and
	// must not assume the command was or was not applied.
	ErrUnavailable = errors.New("platform: gateway unavailable")

	// ErrNotFound is returned when the platform has no telemetry or
	// attributes for the requested controller.
	ErrNotFound = errors.New("platform: not found")

	// ErrAuthFailed is returned when the tenant credentials are rejected
	// by the platform's login endpoint.
	ErrAuthFailed = errors.New("platform: authentication failed")
)
