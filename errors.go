package audiopipe

import "errors"

// Sentinel errors for pipeline operations.
// These errors enable reliable error classification using errors.Is().

// Pipeline state errors.
var (
	// ErrNotEnabled indicates the pipeline has not been enabled.
	ErrNotEnabled = errors.New("pipeline is not enabled")

	// ErrAlreadyEnabled indicates the pipeline is already enabled.
	ErrAlreadyEnabled = errors.New("pipeline is already enabled")

	// ErrFrameInFlight indicates another frame is still being processed.
	// Frames must be submitted one at a time to keep adaptive filter state
	// consistent.
	ErrFrameInFlight = errors.New("another frame is in flight")
)

// Configuration errors.
var (
	// ErrInvalidConfig indicates a malformed or inconsistent configuration.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)
