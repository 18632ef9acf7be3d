// Package errors provides unified error handling for the service layer
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Validation errors (1xxx)
	ErrCodeValidationFailure ErrorCode = "VAL_1001"
	ErrCodeMissingParameter  ErrorCode = "VAL_1002"
	ErrCodeInvalidFormat     ErrorCode = "VAL_1003"
	ErrCodeOutOfRange        ErrorCode = "VAL_1004"

	// Identity errors (2xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_2001"
	ErrCodeForbidden    ErrorCode = "AUTH_2002"

	// Resource errors (3xxx)
	ErrCodeNotFound ErrorCode = "RES_3001"
	ErrCodeConflict ErrorCode = "RES_3002"

	// Rate limiting (4xxx)
	ErrCodeRateLimited ErrorCode = "RATE_4001"

	// Service errors (5xxx)
	ErrCodeInternal        ErrorCode = "SVC_5001"
	ErrCodeUpstreamFailure ErrorCode = "SVC_5002"
	ErrCodeTimeout         ErrorCode = "SVC_5003"
	ErrCodeCancelled       ErrorCode = "SVC_5004"

	// Archive integrity errors (6xxx)
	ErrCodeCorruption ErrorCode = "ARC_6001"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors

func ValidationFailure(field, reason string) *ServiceError {
	return New(ErrCodeValidationFailure, "Validation failed", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "Invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "Value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Identity errors

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Rate limiting

func RateLimitExceeded(axis string, limit int, retryAfterSeconds int64) *ServiceError {
	return New(ErrCodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("axis", axis).
		WithDetails("limit", limit).
		WithDetails("retry_after_seconds", retryAfterSeconds)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func UpstreamFailure(service string, err error) *ServiceError {
	return Wrap(ErrCodeUpstreamFailure, "Upstream call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func Cancelled(operation string) *ServiceError {
	return New(ErrCodeCancelled, "Operation cancelled", http.StatusRequestTimeout).
		WithDetails("operation", operation)
}

// Archive integrity errors

func Corruption(reason string, offset int64) *ServiceError {
	return New(ErrCodeCorruption, "Archive corruption detected", http.StatusUnprocessableEntity).
		WithDetails("reason", reason).
		WithDetails("offset", offset)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
