// Package errors provides error handling for Quarry.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrEmptyFeed) {
//	    // zero-item outcome, not a failure
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors for the import pipeline.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrEmptyFeed indicates a fetch or parse produced zero items.
	// This is not a failure: an import that hits it finishes cleanly.
	ErrEmptyFeed = New("empty feed")

	// ErrLocked indicates the source is already being imported.
	// A locked import attempt must abort before touching any stage state.
	ErrLocked = New("source is locked")

	// ErrAccessDenied indicates the resolved owner may not create or
	// update the target entity
	ErrAccessDenied = New("access denied")

	// ErrMissingTarget indicates a mapping references a target that is no
	// longer registered. The mapping is retained but inert until fixed.
	ErrMissingTarget = New("mapping target missing")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsEmptyFeedError checks if an error is or wraps ErrEmptyFeed
func IsEmptyFeedError(err error) bool {
	return err != nil && Is(err, ErrEmptyFeed)
}

// IsLockedError checks if an error is or wraps ErrLocked
func IsLockedError(err error) bool {
	return err != nil && Is(err, ErrLocked)
}

// IsAccessDeniedError checks if an error is or wraps ErrAccessDenied
func IsAccessDeniedError(err error) bool {
	return err != nil && Is(err, ErrAccessDenied)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
