package echo

import "errors"

// Sentinel errors for echo cancellation operations.
// These enable reliable classification with errors.Is().
var (
	// ErrInvalidConfig indicates a malformed or inconsistent configuration.
	ErrInvalidConfig = errors.New("invalid echo cancellation config")

	// ErrFrameLengthMismatch indicates near-end and reference frames of
	// different lengths; the canceller never silently truncates.
	ErrFrameLengthMismatch = errors.New("near-end and reference frame lengths differ")
)
