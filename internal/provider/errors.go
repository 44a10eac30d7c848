package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	ErrCodeAuthFailed            ErrorCode = "AUTH_FAILED"
	ErrCodeRateLimited           ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound         ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeContextWindowExceeded ErrorCode = "CONTEXT_WINDOW_EXCEEDED"
	ErrCodeUnknown               ErrorCode = "UNKNOWN"
)

// ProviderError is a structured error for Provider operations.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{
		Code:      code,
		Message:   message,
		Provider:  provider,
		Retryable: retryable,
	}
}

// FromHTTPStatus maps an HTTP status returned by a model backend to a
// ProviderError.
func FromHTTPStatus(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrCodeAuthFailed, message, provider, false)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrCodeRateLimited, message, provider, true)
	case status == http.StatusNotFound:
		return NewProviderError(ErrCodeModelNotFound, message, provider, false)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewProviderError(ErrCodeTimeout, message, provider, true)
	case status == http.StatusRequestEntityTooLarge || looksLikeContextOverflow(message):
		return NewProviderError(ErrCodeContextWindowExceeded, message, provider, false)
	case status >= 500:
		return NewProviderError(ErrCodeServiceUnavailable, message, provider, true)
	case status >= 400:
		return NewProviderError(ErrCodeInvalidRequest, message, provider, false)
	default:
		return NewProviderError(ErrCodeUnknown, message, provider, false)
	}
}

// IsContextWindowExceeded checks if the error indicates that the input
// exceeded the model's context window. Untyped errors are matched by keyword.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeContextWindowExceeded
	}
	return looksLikeContextOverflow(err.Error())
}

func looksLikeContextOverflow(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "context window") ||
		strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "token limit exceeded") ||
		strings.Contains(msg, "too many tokens")
}

// IsRetryable reports whether err is a transient ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
