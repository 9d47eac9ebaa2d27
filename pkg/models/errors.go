package models

import (
	"errors"
)

// Domain errors. Callers match them with errors.Is; the packages that
// return them wrap them with the offending ids.
var (
	// ErrValidation is returned for malformed input before any store access
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a participant does not exist in the given org
	ErrNotFound = errors.New("participant not found")
	// ErrAlreadyMerged is returned when a merge or enrichment targets an absorbed record
	ErrAlreadyMerged = errors.New("participant already merged")
	// ErrCycleDetected is returned when a merge would make merged_into cyclic
	ErrCycleDetected = errors.New("merge would create a cycle")
	// ErrCrossOrgMerge is returned when the two records belong to different orgs
	ErrCrossOrgMerge = errors.New("participants belong to different organizations")
	// ErrConcurrentModification is returned when an optimistic version check keeps failing
	ErrConcurrentModification = errors.New("participant was modified concurrently")
	// ErrStoreUnavailable is returned when the backing store cannot be reached
	ErrStoreUnavailable = errors.New("participant store unavailable")
	// ErrQueryFailed is returned when the store is reachable but a statement failed
	ErrQueryFailed = errors.New("participant store query failed")
)

// IsRetryable reports whether the caller may retry the operation with backoff.
// Merge invariant violations are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrentModification)
}
