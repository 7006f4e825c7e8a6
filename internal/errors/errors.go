// Package errors defines the typed service errors returned across the
// storefront and their mapping onto HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_error"
	CodeNotFound          ErrorCode = "not_found"
	CodeConflict          ErrorCode = "conflict"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeForbidden         ErrorCode = "forbidden"
	CodeInvalidToken      ErrorCode = "invalid_token"
	CodeRateLimited       ErrorCode = "rate_limit_exceeded"
	CodeInsufficientStock ErrorCode = "insufficient_stock"
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeNotSupported      ErrorCode = "not_supported"
	CodeInternal          ErrorCode = "internal_error"
)

// ServiceError is an error that knows how it should be rendered to clients.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches another ServiceError by code so callers can use errors.Is with
// the sentinel constructors below.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if stderrors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation reports invalid client input.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...interface{}) *ServiceError {
	return Validation(fmt.Sprintf(format, args...))
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("id", id)
}

// Conflict reports a state conflict (duplicate key, dependent rows, ...).
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden reports an authenticated caller lacking permission.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "insufficient permissions"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// InvalidToken reports a token that failed verification.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// RateLimitExceeded reports throttling.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// InsufficientStock reports that a product cannot cover the requested quantity.
func InsufficientStock(productID string, requested, available int) *ServiceError {
	return newError(CodeInsufficientStock, http.StatusConflict, "insufficient stock", nil).
		WithDetails("product_id", productID).
		WithDetails("requested", requested).
		WithDetails("available", available)
}

// InvalidTransition reports a disallowed order status change.
func InvalidTransition(from, to string) *ServiceError {
	return newError(CodeInvalidTransition, http.StatusConflict,
		fmt.Sprintf("cannot move order from %s to %s", from, to), nil)
}

// NotSupported reports an operation unavailable in the current configuration.
func NotSupported(message string) *ServiceError {
	return newError(CodeNotSupported, http.StatusNotImplemented, message, nil)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.Code == code
	}
	return false
}

// HTTPStatus returns the status code for err, defaulting to 500.
func HTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil && svcErr.HTTPStatus != 0 {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
