package recognizer

import "errors"

var (
	// ErrBackendUnavailable indicates a backend could not be constructed,
	// e.g. a missing model file or API key.
	ErrBackendUnavailable = errors.New("recognizer: backend unavailable")

	// ErrTransient marks a recoverable failure (network blip, timeout,
	// HTTP 5xx, expired token): the backend's own state machine retries it
	// with backoff and it never reaches the pipeline.
	ErrTransient = errors.New("recognizer: transient failure")

	// ErrFatal marks a non-recoverable failure (auth permanently rejected,
	// incompatible wire schema): Run returns it and the pipeline terminates.
	ErrFatal = errors.New("recognizer: fatal, non-retryable error")

	// ErrProtocol indicates a malformed or unexpected message on the wire.
	ErrProtocol = errors.New("recognizer: unexpected protocol message")
)
