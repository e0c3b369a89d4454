/*
errors.go - Centralized error types for the levy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is against the sentinels below, or
  with the IsXxx helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Business-rule errors - deterministic, never retried
     (not found, unauthorized, rate not configured, validation, duplicate)
  2. Persistence errors - storage failures, the only retryable class

USAGE:
    if errors.Is(err, levy.ErrRateNotConfigured) {
        // market has no active rate for this occupancy type
    }

SEE ALSO:
  - authorize.go: AuthError
  - collection/workflow.go: Wraps storage failures in PersistenceError
*/
package levy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the parent of every "missing entity" error.
	ErrNotFound = errors.New("not found")

	ErrTraderNotFound = fmt.Errorf("trader %w", ErrNotFound)
	ErrAgentNotFound  = fmt.Errorf("agent %w", ErrNotFound)

	// ErrUnauthorized is returned when the actor or agent may not act on
	// the trader. See AuthError and RoleError for details.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateNotConfigured is returned when no active rate exists for the
	// trader's market and occupancy type.
	ErrRateNotConfigured = errors.New("levy rate not configured")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateCollection is returned when the current collection window
	// is already settled, or an idempotency key was reused for a different
	// trader.
	ErrDuplicateCollection = errors.New("levy already collected for this period")

	// ErrTraderHasPayments is returned when deleting a trader that still
	// owns payment records.
	ErrTraderHasPayments = errors.New("trader has payment records")

	// ErrPersistence is returned when the store fails.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateCollectionError reports the window that was already settled.
type DuplicateCollectionError struct {
	TraderID    TraderID
	WindowKey   string
	NextDueDate Date
}

func (e *DuplicateCollectionError) Error() string {
	if e.NextDueDate.IsZero() {
		return fmt.Sprintf("levy already collected from %s for window %s", e.TraderID, e.WindowKey)
	}
	return fmt.Sprintf("levy already collected from %s for window %s, next due %s",
		e.TraderID, e.WindowKey, e.NextDueDate)
}

func (e *DuplicateCollectionError) Unwrap() error { return ErrDuplicateCollection }

// PersistenceError wraps a storage failure. Recorded tells the caller
// whether the collection was written; writes are all-or-nothing, so a
// failed confirmation always reports false.
type PersistenceError struct {
	Op       string
	Recorded bool
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v (recorded: %t)", e.Op, e.Err, e.Recorded)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsClientError returns true if the error is a deterministic business-rule
// failure the caller must not retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRateNotConfigured) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateCollection) ||
		errors.Is(err, ErrTraderHasPayments)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
