package transport

import "errors"

var (
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidKey indicates a key that is not 32 bytes.
	ErrInvalidKey = errors.New("key must be 32 bytes")

	// ErrHandshakeIncomplete is returned when encrypting or decrypting
	// before the handshake has finished.
	ErrHandshakeIncomplete = errors.New("noise handshake not complete")

	// ErrHandshakeComplete is returned when a handshake message arrives
	// after the handshake already finished.
	ErrHandshakeComplete = errors.New("noise handshake already complete")

	// ErrMaxAttemptsExceeded is returned when the reconnector gives up.
	ErrMaxAttemptsExceeded = errors.New("maximum reconnection attempts exceeded")
)
