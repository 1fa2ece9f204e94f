// Package core defines the fundamental types and errors for LearnPulse.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Validation errors - rejected at the boundary, never partially applied
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
	ErrEventOutOfOrder = errors.New("event is older than the last applied event")

	// Storage errors
	ErrKeyNotFound     = errors.New("key not found")
	ErrDuplicateEvent  = errors.New("duplicate event id")
	ErrMigrationFailed = errors.New("migration failed")

	// Lookup errors
	ErrUserNotFound           = errors.New("user not found")
	ErrRecommendationNotFound = errors.New("recommendation not found")

	// Analysis errors
	// ErrInsufficientData means the detector or engine declines to
	// produce output rather than guessing; callers surface this as an
	// empty result, not a failure.
	ErrInsufficientData = errors.New("insufficient data")

	// Collaborator errors - recovered locally, never propagated to callers
	ErrCollaboratorUnavailable = errors.New("insight collaborator unavailable")
	ErrMalformedNarrative      = errors.New("malformed narrative response")

	// State machine errors
	ErrRecommendationTerminal = errors.New("recommendation is in a terminal state")
)
