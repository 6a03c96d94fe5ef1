package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a record does not exist or belongs
	// to another tenant.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record with the given ID, or a
	// tool with the given tenant-scoped slug, already exists.
	ErrConflict = errors.New("record already exists")

	// ErrStaleStatus is returned by TransitionExecution when the
	// execution is no longer in the expected state. Callers treat this
	// as a lost race, not a failure.
	ErrStaleStatus = errors.New("execution not in expected status")
)
