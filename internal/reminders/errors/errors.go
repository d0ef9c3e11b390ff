package errors

import "errors"

var (
	// ErrNotClaimed means another dispatcher already owns the reminder or it
	// is no longer pending.
	ErrNotClaimed = errors.New("reminder not claimable")

	ErrClaimLost = errors.New("reminder claim lost")
)
