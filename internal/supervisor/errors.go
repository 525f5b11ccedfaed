package supervisor

import "errors"

// Domain-specific errors for supervisor operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidServer is returned by SetServer for an empty broker address.
	ErrInvalidServer = errors.New("supervisor: broker address cannot be empty")

	// ErrInvalidPort is returned by SetServer for a port outside 1-65535.
	ErrInvalidPort = errors.New("supervisor: broker port must be between 1 and 65535")

	// ErrInvalidTopic is returned by SendMessage for an empty topic.
	ErrInvalidTopic = errors.New("supervisor: topic cannot be empty")

	// ErrNotConnected is returned by SendMessage while the transport is down.
	// The call has already triggered a reconnect attempt (subject to backoff).
	ErrNotConnected = errors.New("supervisor: mqtt not connected")

	// ErrPublishFailed wraps a transport publish error.
	ErrPublishFailed = errors.New("supervisor: publish failed")
)
