package pipeline

import "errors"

var (
	// ErrRepoPathUnresolved aborts a run when the first phase leaves no local working copy.
	ErrRepoPathUnresolved = errors.New("repository local path unresolved after phase 1")
	// ErrMissingRepo is returned when a phased run has no target repository.
	ErrMissingRepo = errors.New("repository URL and base branch are required")
)
