package errors

import "errors"

var (
	ErrNotFound = errors.New("slot not found")

	// ErrStaleState means a conditional update found the slot in a different
	// state than the caller expected.
	ErrStaleState = errors.New("slot state changed concurrently")

	ErrNotOwner = errors.New("slot is held by another booking")

	ErrOverlap = errors.New("slot overlaps an existing slot")
)
