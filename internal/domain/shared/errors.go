// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// Engine errors
	ErrConfiguration = errors.New("configuration error")
	ErrContention    = errors.New("contention: retries exhausted")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "rank", "achievement", "leaderboard"
	Op      string // Operation that failed, e.g., "Create", "Update"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Rank domain errors
var (
	ErrUserRankNotFound   = NewDomainError("rank", "Find", ErrNotFound, "user rank state not found")
	ErrInvalidTierTable   = NewDomainError("rank", "ValidateTiers", ErrConfiguration, "rank tier table is inconsistent")
	ErrUnknownTier        = NewDomainError("rank", "Lookup", ErrValueOutOfRange, "tier not present in table")
	ErrInvalidUserID      = NewDomainError("rank", "Validate", ErrInvalidID, "user id must not be empty")
	ErrInvalidItemKey     = NewDomainError("rank", "Credit", ErrEmptyValue, "item key must not be empty")
	ErrNegativeAmount     = NewDomainError("rank", "Credit", ErrConfiguration, "points amount cannot be negative")
	ErrCycleAlreadyRan    = NewDomainError("rank", "RunCycle", ErrAlreadyProcessed, "weekly cycle already completed for this period")
	ErrCycleLocked        = NewDomainError("rank", "RunCycle", ErrConcurrentModification, "weekly cycle is running elsewhere")
	ErrAdjustmentNoReason = NewDomainError("rank", "Adjust", ErrEmptyValue, "admin adjustment requires a note")
)

// Achievement domain errors
var (
	ErrAchievementNotFound    = NewDomainError("achievement", "Find", ErrNotFound, "achievement definition not found")
	ErrDuplicateAchievement   = NewDomainError("achievement", "ValidateCatalog", ErrConfiguration, "achievement code is not unique")
	ErrInvalidRequirement     = NewDomainError("achievement", "ValidateCatalog", ErrConfiguration, "achievement requirement is malformed")
	ErrAchievementUnavailable = NewDomainError("achievement", "Load", ErrServiceUnavailable, "achievement catalog unavailable")
)

// Activity domain errors
var (
	ErrMissingPointsConfig = NewDomainError("activity", "ResolvePoints", ErrConfiguration, "no resolved points and no course points configuration")
	ErrInvalidCoursePoints = NewDomainError("activity", "ResolvePoints", ErrConfiguration, "course points configuration is malformed")
	ErrInvalidActivityKind = NewDomainError("activity", "Validate", ErrInvalidInput, "unknown activity kind")
)

// Leaderboard domain errors
var (
	ErrInvalidPeriod = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "unknown leaderboard period")
	ErrInvalidPage   = NewDomainError("leaderboard", "Validate", ErrValueOutOfRange, "page must be positive")
)

// ConfigurationError builds an error for missing or malformed configuration.
func ConfigurationError(domain, op, message string, err error) *DomainError {
	return WrapError(domain, op, ErrConfiguration, message, err)
}

// ContentionError builds an error for a conflict that outlived its retries.
func ContentionError(domain, op, message string, err error) *DomainError {
	return WrapError(domain, op, ErrContention, message, err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}

// IsConflict checks for an optimistic-concurrency conflict on one aggregate.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}

// IsConfiguration checks if the error is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsContention checks if the error is a contention error.
func IsContention(err error) bool {
	return errors.Is(err, ErrContention)
}
