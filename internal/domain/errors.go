package domain

import "errors"

// Sentinel errors shared across the pipeline, matched with errors.Is.
var (
	ErrEmptyContent      = errors.New("empty content")
	ErrValidation        = errors.New("validation failed")
	ErrScoringFailure    = errors.New("scoring failure")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)
