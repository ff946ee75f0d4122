package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized indicates a missing, expired or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates a valid identity without the required role or permission.
	ErrForbidden = errors.New("insufficient permission")
	// ErrNotFound indicates the referenced role, permission or menu item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInfrastructure indicates a store or cache failure; retryable at the transport layer.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError carries field-level messages. It matches ErrValidation and,
// when Cause is set, the cause as well.
type ValidationError struct {
	Fields map[string]string
	Cause  error
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// NotFoundField reports a reference to a missing record as a field error.
func NotFoundField(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}, Cause: ErrNotFound}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Infra wraps a store-level failure so it matches ErrInfrastructure.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &infraError{op: op, err: err}
}

type infraError struct {
	op  string
	err error
}

func (e *infraError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *infraError) Is(target error) bool {
	return target == ErrInfrastructure
}

func (e *infraError) Unwrap() error {
	return e.err
}

// UserSafeMessage converts an error into a message that exposes no internals.
func UserSafeMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrUnauthorized):
		return "authentication required"
	case errors.Is(err, ErrForbidden):
		return "insufficient permission"
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	default:
		return "service temporarily unavailable, retry later"
	}
}

// IsClientError reports whether err is caused by the caller rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidCredentials)
}
