// Package shared contains common domain errors used across the engagement,
// questionnaire and report packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound    = errors.New("entity not found")
	ErrUnknownUser = errors.New("unknown user")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrInvalidFormat = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Concurrency errors
	ErrVersionConflict = errors.New("version conflict")

	// External service errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "engagement", "questionnaire", "storage"
	Op      string // Operation that failed, e.g., "Load", "Submit"
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

// ValidationError is returned by questionnaire validators. Reason is shown
// to the user verbatim, so it is written in Russian.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("questionnaire: field %q: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a user-facing validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Engagement domain errors
var (
	ErrNotAdmin = NewDomainError("engagement", "Authorize", ErrForbidden, "admin privileges required")
)

// Questionnaire domain errors
var (
	ErrNoActiveSession = NewDomainError("questionnaire", "Submit", ErrNotFound, "no active questionnaire session")
	ErrSessionExpired  = NewDomainError("questionnaire", "Submit", ErrExpired, "questionnaire session expired")
)

// Storage errors
var (
	ErrDocumentNotFound = NewDomainError("storage", "Load", ErrNotFound, "document not found")
	ErrDocumentConflict = NewDomainError("storage", "Save", ErrVersionConflict, "document version mismatch")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnknownUser checks if the error refers to an unregistered user id.
func IsUnknownUser(err error) bool {
	return errors.Is(err, ErrUnknownUser)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsStorageUnavailable checks if the backing document store could not be reached.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// AsValidation extracts a ValidationError from the chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
