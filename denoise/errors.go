package denoise

import "errors"

// Sentinel errors for noise reduction operations.
var (
	// ErrInvalidConfig indicates a malformed or inconsistent configuration,
	// including an unsupported algorithm selection.
	ErrInvalidConfig = errors.New("invalid noise reduction config")
)
