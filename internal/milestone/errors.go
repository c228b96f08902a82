package milestone

import "errors"

var (
	// ErrNoActiveMilestone is returned when a request has no current milestone,
	// either because nothing is planned or because everything is completed.
	ErrNoActiveMilestone = errors.New("request has no active milestone")
	ErrRequestNotFound   = errors.New("request not found")
	ErrInvalidDate       = errors.New("invalid date")
	// ErrStoreUnavailable marks a transient persistence failure that outlived
	// the store's retry budget.
	ErrStoreUnavailable = errors.New("request store unavailable")
)
