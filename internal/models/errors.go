package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidField      ErrorCode = "INVALID_FIELD"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeConflict          ErrorCode = "CONFLICT"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeDuplicateEvent    ErrorCode = "DUPLICATE_EVENT"
	ErrorCodeBackendDown       ErrorCode = "BACKEND_UNAVAILABLE"
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeInternalError   = "internal-error"
)

// ValidationError represents bad input; never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ConflictError represents transient contention (lock busy or lock timeout).
// The caller may retry the whole operation.
type ConflictError struct {
	Resource string `json:"resource"`
	Reason   string `json:"reason"`
	Cause    error  `json:"-"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// InsufficientStockError is a business rejection naming the offending product;
// not retried automatically.
type InsufficientStockError struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// NotFoundError represents a missing resource
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
}

// BackendUnavailableError represents an infrastructure failure (lock backend,
// database, broker). Surfaced as a server error; safe to retry.
type BackendUnavailableError struct {
	Component string `json:"component"`
	Cause     error  `json:"-"`
}

func (e *BackendUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Component, e.Cause)
	}
	return fmt.Sprintf("%s unavailable", e.Component)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Cause
}

// terminalError marks a task failure that cannot succeed on retry; the
// coordinator dead-letters it without entering the backoff loop.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the retry coordinator skips the backoff loop
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
// Validation errors and not-found errors are terminal by nature.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var te *terminalError
	if errors.As(err, &te) {
		return true
	}
	var ve *ValidationError
	var nfe *NotFoundError
	return errors.As(err, &ve) || errors.As(err, &nfe)
}

// Error type guards

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflictError(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsInsufficientStockError(err error) bool {
	var e *InsufficientStockError
	return errors.As(err, &e)
}

func IsNotFoundError(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsBackendUnavailable(err error) bool {
	var e *BackendUnavailableError
	return errors.As(err, &e)
}

// ProblemDetails is the RFC 7807 style error body for the HTTP boundary
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
	Code   string `json:"code,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a validation error problem
func NewValidationProblem(field, message string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(ErrorCodeInvalidField),
	}
}

// NewBusinessProblem creates a business logic error problem
func NewBusinessProblem(status int, title, detail string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
	}
}

// NewInternalErrorProblem creates an internal server error problem
func NewInternalErrorProblem() *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeInternalError,
		Title:  "Internal Server Error",
		Status: 500,
		Detail: "An unexpected error occurred",
	}
}

func problemType(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	default:
		return ProblemTypeInternalError
	}
}
