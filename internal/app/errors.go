package app

import (
	"errors"
	"fmt"
	"net/http"

	"bughatch/internal/activity"
)

// ErrorType tags every expected failure returned by the services.
type ErrorType string

const (
	ErrUnauthorized ErrorType = "unauthorized"
	ErrForbidden    ErrorType = "forbidden"
	ErrNotFound     ErrorType = "notfound"
	ErrValidation   ErrorType = "validation"
	ErrConflict     ErrorType = "conflict"
	ErrInternal     ErrorType = "internal"
)

// HTTPStatus maps the error type to the status the HTTP layer responds with.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

type DomainError struct {
	Type    ErrorType
	Message string
	Details any

	cause error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(errType ErrorType, message string, details any) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Details: details,
	}
}

func unauthorized() *DomainError {
	return domainError(ErrUnauthorized, "authentication required", nil)
}

func forbidden(message string) *DomainError {
	return domainError(ErrForbidden, message, nil)
}

func notFound(message string) *DomainError {
	return domainError(ErrNotFound, message, nil)
}

func invalid(field, message string) *DomainError {
	return domainError(ErrValidation, message, map[string]any{"field": field})
}

func conflict(message string) *DomainError {
	return domainError(ErrConflict, message, nil)
}

// TypeOf classifies err. Anything that is not a domain error is internal.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	var actErr *activity.Error
	if errors.As(err, &actErr) {
		return ErrorType(actErr.Kind)
	}
	return ErrInternal
}

// Result is the discriminated value handed to the HTTP layer.
type Result struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ErrorType ErrorType `json:"errorType,omitempty"`
	Details   any       `json:"details,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Envelope wraps an operation's return values. Internal failures never leak
// their cause.
func Envelope(data any, err error) Result {
	if err == nil {
		return Result{Success: true, Data: data}
	}
	errType := TypeOf(err)
	if errType == ErrInternal {
		return Result{Error: "internal error", ErrorType: ErrInternal}
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return Result{Error: domainErr.Message, ErrorType: errType, Details: domainErr.Details}
	}
	var actErr *activity.Error
	if errors.As(err, &actErr) {
		return Result{Error: actErr.Message, ErrorType: errType}
	}
	return Result{Error: err.Error(), ErrorType: errType}
}
