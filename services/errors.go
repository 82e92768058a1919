package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeMalformedEvent ErrorType = "malformed_event"
	ErrorTypeUnauthorized   ErrorType = "unauthorized"
	ErrorTypeForbidden      ErrorType = "forbidden"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}

	// base is the shared sentinel this error was derived from via WithDetail.
	// It gives derived errors a stable identity without ever mutating the
	// sentinel itself.
	base *DomainError
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error with the detail attached. The
// receiver is never mutated: the package sentinels are shared across
// concurrent requests, so attaching a detail in place would race and leak
// details between unrelated callers.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	base := e.base
	if base == nil {
		base = e
	}

	return &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
		base:    base,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrEventNotFound     = NewDomainError(ErrorTypeNotFound, "event not found", nil)
	ErrProposalNotFound  = NewDomainError(ErrorTypeNotFound, "proposal not found", nil)
	ErrWorkspaceNotFound = NewDomainError(ErrorTypeNotFound, "workspace not found", nil)
	ErrMemberNotFound    = NewDomainError(ErrorTypeNotFound, "workspace member not found", nil)

	// Validation Errors
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidEventType = NewDomainError(ErrorTypeValidation, "invalid event type", nil)
	ErrNoUserContext    = NewDomainError(ErrorTypeValidation, "no user context", nil)

	// Parse Errors
	ErrMalformedEvent = NewDomainError(ErrorTypeMalformedEvent, "malformed event record", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrForbidden        = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrPermissionDenied = NewDomainError(ErrorTypeForbidden, "permission denied", nil)

	// Conflict Errors
	ErrVersionConflict   = NewDomainError(ErrorTypeConflict, "aggregate version conflict", nil)
	ErrProposalReviewed  = NewDomainError(ErrorTypeConflict, "proposal already reviewed", nil)
	ErrDuplicateEmission = NewDomainError(ErrorTypeConflict, "terminal event already emitted", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)

	// External Collaborator Errors
	ErrResolverUnavailable = NewDomainError(ErrorTypeExternal, "permission resolver unavailable", nil)
	ErrNotifierUnavailable = NewDomainError(ErrorTypeExternal, "realtime notifier unavailable", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsMalformedEventError checks if an error is a malformed event parse error
func IsMalformedEventError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeMalformedEvent
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConflict
	}
	return false
}

// SentinelOf returns the shared sentinel a domain error derives from, or the
// error itself when it was not derived via WithDetail. Returns nil for
// non-domain errors.
func SentinelOf(err error) *DomainError {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return nil
	}
	if domainErr.base != nil {
		return domainErr.base
	}
	return domainErr
}

// IsVersionConflictError checks if an error is an optimistic concurrency
// conflict. The check is by sentinel identity, not by error type: other
// conflicts (an already-reviewed proposal, a duplicate emission) must not
// pass as benign version races.
func IsVersionConflictError(err error) bool {
	return SentinelOf(err) == ErrVersionConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// IsExternalError checks if an error is an external collaborator error
func IsExternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeExternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external collaborator error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
