package medfuse

import "errors"

var (
	// ErrUnknownProvider is returned for a provider kind with no implementation.
	ErrUnknownProvider = errors.New("unknown ai provider")

	// ErrUnknownBackend is returned for an unsupported storage backend.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrClosed is returned when using a closed System.
	ErrClosed = errors.New("system closed")
)
