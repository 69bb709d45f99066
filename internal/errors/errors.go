// Package errors defines the service error taxonomy shared by the HTTP
// layer and the domain services.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a service error.
type Code string

const (
	CodeAuth       Code = "AUTH_ERROR"
	CodeEconomic   Code = "ECONOMIC_ERROR"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeRateLimit  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// StatusSpellFailed is the deliberately non-standard HTTP status used to
// distinguish "spell failed" from ordinary HTTP failures.
const StatusSpellFailed = 900

// EconomicType identifies which resource an economic rejection is about.
type EconomicType string

const (
	EconomicMP       EconomicType = "mp"
	EconomicNineum   EconomicType = "nineum"
	EconomicCurrency EconomicType = "currency"
)

// ServiceError carries a machine-readable code, an HTTP status and optional
// structured details.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// Unauthorized builds a terminal authorization failure. Never retried.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeAuth,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// Economic builds a retryable resource rejection carrying the resource type
// and shortfall amounts so clients can acquire what is missing.
func Economic(kind EconomicType, message string, required, available float64) *ServiceError {
	return &ServiceError{
		Code:       CodeEconomic,
		Message:    message,
		HTTPStatus: http.StatusPaymentRequired,
		Details: map[string]interface{}{
			"type":      string(kind),
			"required":  required,
			"available": available,
			"shortfall": required - available,
		},
	}
}

// Validation builds a malformed-request failure.
func Validation(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound builds a missing-resource failure.
func NotFound(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// RateLimitExceeded builds a throttling failure.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimit,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
		Details: map[string]interface{}{
			"limit":  limit,
			"window": window,
		},
	}
}

// Internal wraps an unexpected failure. The resolution pipeline surfaces
// these as a structured {success:false} with StatusSpellFailed rather than
// letting them propagate as a 5xx.
func Internal(message string, cause error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: StatusSpellFailed,
		cause:      cause,
	}
}

// GetServiceError returns err as a *ServiceError when it is one, walking
// wrapped errors, or nil otherwise.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}
