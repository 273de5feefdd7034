package utils

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeQuota         ErrorType = "QUOTA_EXCEEDED"
	ErrorTypeTimeout       ErrorType = "DEPENDENCY_TIMEOUT"
	ErrorTypeDependency    ErrorType = "DEPENDENCY_FAILURE"
	ErrorTypeCircuitOpen   ErrorType = "CIRCUIT_OPEN"
	ErrorTypeValidation    ErrorType = "VALIDATION_DROP"
	ErrorTypeAuthorization ErrorType = "AUTHORIZATION_DENIED"
	ErrorTypeNotRegistered ErrorType = "CHANNEL_NOT_REGISTERED"
	ErrorTypeWebSocket     ErrorType = "WEBSOCKET"
	ErrorTypeConfig        ErrorType = "CONFIG"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

// Sentinel errors used across the resilience layer
var (
	// ErrCircuitOpen is returned when a breaker short-circuits a call
	// without invoking the upstream dependency.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrDependencyTimeout is returned when a guarded call exceeds its
	// configured timeout.
	ErrDependencyTimeout = errors.New("dependency call timed out")

	// ErrChannelNotRegistered is returned when subscribing to an unknown channel.
	ErrChannelNotRegistered = errors.New("channel is not registered")

	// ErrAuthorizationDenied is returned when a channel handler rejects a subscription.
	ErrAuthorizationDenied = errors.New("subscription authorization denied")

	// ErrLimiterStopped is returned for work enqueued after the limiter shut down.
	ErrLimiterStopped = errors.New("rate limiter is stopped")
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Retryable  bool                   `json:"retryable"`
	Dependency string                 `json:"dependency,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message, dependency string) *AppError {
	return &AppError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Dependency: dependency,
		Timestamp:  time.Now().UTC(),
	}
}

// WrapError wraps an existing error with application error context
func WrapError(err error, errorType ErrorType, code, message, dependency string) *AppError {
	appErr := NewAppError(errorType, code, message, dependency)
	appErr.Cause = err
	appErr.Retryable = errorType == ErrorTypeTimeout || errorType == ErrorTypeDependency
	return appErr
}

// GetErrorType extracts the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ErrorTypeCircuitOpen
	case errors.Is(err, ErrDependencyTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrAuthorizationDenied):
		return ErrorTypeAuthorization
	case errors.Is(err, ErrChannelNotRegistered):
		return ErrorTypeNotRegistered
	}
	return ErrorTypeInternal
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return errors.Is(err, ErrDependencyTimeout)
}
