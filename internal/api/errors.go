package api

import "errors"

// Submission validation errors. All map to 400.
var (
	ErrInvalidEPURL = errors.New("Invalid enhancement PR URL. Expected format: https://github.com/openshift/enhancements/pull/<number>")
	ErrMissingRepo  = errors.New("phased mode requires repo_url and base_branch")
	ErrUnknownMode  = errors.New("unknown mode")
)
