package guard

import "errors"

var (
	// ErrInvalidInput is returned for an empty endpoint, topic or payload.
	// No state is changed.
	ErrInvalidInput = errors.New("guard: invalid input")

	// ErrNotConnected is returned by Publish when no usable connection exists.
	// The transport is not called.
	ErrNotConnected = errors.New("guard: not connected")

	// ErrTransportFailure wraps an error reported by Session.Publish.
	// The connection is demoted to not connected.
	ErrTransportFailure = errors.New("guard: transport failure")

	// ErrSetupFailed wraps a failure to allocate, start or connect a session.
	ErrSetupFailed = errors.New("guard: connection setup failed")

	// ErrAlreadyConnected is returned by Connect while a session is connecting
	// or connected.
	ErrAlreadyConnected = errors.New("guard: already connected")

	// ErrDestroyed is returned by Connect after DisconnectAndDestroy.
	ErrDestroyed = errors.New("guard: destroyed")
)
