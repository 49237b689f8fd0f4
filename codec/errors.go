package codec

import "errors"

// Sentinel errors for compression operations.
var (
	// ErrInvalidConfig indicates a malformed or inconsistent configuration.
	ErrInvalidConfig = errors.New("invalid compression config")

	// ErrMalformedData indicates encoded data that cannot be interpreted.
	ErrMalformedData = errors.New("malformed encoded data")

	// ErrEncoderClosed indicates use of an encoder after Close.
	ErrEncoderClosed = errors.New("encoder is closed")
)
