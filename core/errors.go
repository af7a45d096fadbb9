package core

import (
	"errors"
	"fmt"
)

// AuthorizationError indicates the caller lacks the required role.
// Mapped to HTTP 403 with no side effects.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(reason string) *AuthorizationError {
	return &AuthorizationError{Reason: reason}
}

// ValidationError indicates a missing or malformed request parameter.
// Mapped to HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NewValidationError creates a validation error for a named field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsAuthorizationError reports whether err is an AuthorizationError
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
