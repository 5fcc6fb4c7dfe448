package jobs

import "errors"

var (
	// ErrNotFound is returned for an unknown job ID.
	ErrNotFound = errors.New("job not found")
	// ErrFinalized is returned when mutating a job that already reached a terminal status.
	ErrFinalized = errors.New("job already finalized")
	// ErrInvalidOutcome is returned when Finalize is called with a non-terminal status.
	ErrInvalidOutcome = errors.New("outcome status must be terminal")
)
