package errors

import "errors"

var (
	ErrNotFound = errors.New("booking not found")

	// ErrStaleState means the booking changed between the read and the
	// conditional write.
	ErrStaleState = errors.New("booking state changed concurrently")

	ErrInvalidTransition = errors.New("invalid booking transition")
)
