// Package errors provides custom error types for the Antigravity router.
package errors

import (
	"encoding/json"
	"strings"
)

// RouterError is the base error type for router errors
type RouterError struct {
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (e *RouterError) Error() string {
	return e.Message
}

// ToJSON converts the error to JSON for API responses
func (e *RouterError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":      e.Code,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		result[k] = v
	}
	return result
}

// MarshalJSON implements json.Marshaler
func (e *RouterError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewRouterError creates a new RouterError
func NewRouterError(message, code string, retryable bool, metadata map[string]interface{}) *RouterError {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &RouterError{
		Message:   message,
		Code:      code,
		Retryable: retryable,
		Metadata:  metadata,
	}
}

// UnavailableError is returned when no usable (account, model) pair exists
type UnavailableError struct {
	*RouterError
	ModelID string `json:"modelId,omitempty"`
	Reason  string `json:"reason"`
}

// NewUnavailableError creates a new UnavailableError
func NewUnavailableError(modelID, reason string) *UnavailableError {
	if reason == "" {
		reason = "no_usable_account"
	}
	return &UnavailableError{
		RouterError: &RouterError{
			Message:   "No usable account for model " + modelID,
			Code:      "NO_USABLE_ACCOUNT",
			Retryable: true,
			Metadata: map[string]interface{}{
				"modelId": modelID,
				"reason":  reason,
			},
		},
		ModelID: modelID,
		Reason:  reason,
	}
}

// NotFoundError is returned for lookups of unknown accounts or issues
type NotFoundError struct {
	*RouterError
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{
		RouterError: &RouterError{
			Message:   message,
			Code:      "NOT_FOUND",
			Retryable: false,
			Metadata:  make(map[string]interface{}),
		},
	}
}

// FieldError describes a single failing field in a validation error
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for rejected config or request payloads.
// It carries every failing field; nothing is partially applied.
type ValidationError struct {
	*RouterError
	Fields []FieldError `json:"errors"`
}

// NewValidationError creates a new ValidationError
func NewValidationError(fields []FieldError) *ValidationError {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	return &ValidationError{
		RouterError: &RouterError{
			Message:   "Validation failed: " + strings.Join(names, ", "),
			Code:      "VALIDATION_FAILED",
			Retryable: false,
			Metadata:  make(map[string]interface{}),
		},
		Fields: fields,
	}
}

// RateLimitError represents an upstream rate limit (429 / RESOURCE_EXHAUSTED)
type RateLimitError struct {
	*RouterError
	ResetMs      *int64 `json:"resetMs,omitempty"`
	AccountEmail string `json:"accountEmail,omitempty"`
}

// NewRateLimitError creates a new RateLimitError
func NewRateLimitError(message string, resetMs *int64, accountEmail string) *RateLimitError {
	metadata := map[string]interface{}{}
	if resetMs != nil {
		metadata["resetMs"] = *resetMs
	}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	return &RateLimitError{
		RouterError: &RouterError{
			Message:   message,
			Code:      "RATE_LIMITED",
			Retryable: true,
			Metadata:  metadata,
		},
		ResetMs:      resetMs,
		AccountEmail: accountEmail,
	}
}

// AuthError represents an upstream authentication failure
type AuthError struct {
	*RouterError
	AccountEmail string `json:"accountEmail,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// NewAuthError creates a new AuthError
func NewAuthError(message, accountEmail, reason string) *AuthError {
	metadata := map[string]interface{}{}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	return &AuthError{
		RouterError: &RouterError{
			Message:   message,
			Code:      "AUTH_INVALID",
			Retryable: false,
			Metadata:  metadata,
		},
		AccountEmail: accountEmail,
		Reason:       reason,
	}
}

// ApiError represents an API error from the upstream service
type ApiError struct {
	*RouterError
	StatusCode int    `json:"statusCode"`
	ErrorType  string `json:"errorType"`
}

// NewApiError creates a new ApiError
func NewApiError(message string, statusCode int, errorType string) *ApiError {
	if errorType == "" {
		errorType = "api_error"
	}
	return &ApiError{
		RouterError: &RouterError{
			Message:   message,
			Code:      strings.ToUpper(errorType),
			Retryable: statusCode >= 500,
			Metadata: map[string]interface{}{
				"statusCode": statusCode,
				"errorType":  errorType,
			},
		},
		StatusCode: statusCode,
		ErrorType:  errorType,
	}
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	if _, ok := err.(*RateLimitError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota_exhausted") ||
		strings.Contains(msg, "rate limit")
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if _, ok := err.(*AuthError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTH_INVALID") ||
		strings.Contains(msg, "INVALID_GRANT") ||
		strings.Contains(msg, "TOKEN REFRESH FAILED")
}

// IsUnavailableError checks if an error is an unavailable error
func IsUnavailableError(err error) bool {
	_, ok := err.(*UnavailableError)
	return ok
}

// FormatAPIError formats an error for an API response body
func FormatAPIError(err error) map[string]interface{} {
	type jsonable interface {
		ToJSON() map[string]interface{}
	}
	if je, ok := err.(jsonable); ok {
		return je.ToJSON()
	}
	return map[string]interface{}{
		"code":    "INTERNAL_ERROR",
		"message": err.Error(),
	}
}

// HTTPStatusFromError returns the appropriate HTTP status code for an error
func HTTPStatusFromError(err error) int {
	switch e := err.(type) {
	case *RateLimitError:
		return 429
	case *AuthError:
		return 401
	case *UnavailableError:
		return 503
	case *NotFoundError:
		return 404
	case *ValidationError:
		return 400
	case *ApiError:
		return e.StatusCode
	case *RouterError:
		if e.Code == "ACCOUNT_EXISTS" {
			return 409
		}
		return 500
	default:
		return 500
	}
}
