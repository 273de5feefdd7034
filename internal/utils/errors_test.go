package utils

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestGetErrorTypeMapsSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"circuit open", ErrCircuitOpen, ErrorTypeCircuitOpen},
		{"timeout", ErrDependencyTimeout, ErrorTypeTimeout},
		{"authorization", ErrAuthorizationDenied, ErrorTypeAuthorization},
		{"unknown channel", ErrChannelNotRegistered, ErrorTypeNotRegistered},
		{"wrapped sentinel", fmt.Errorf("subscribe: %w", ErrChannelNotRegistered), ErrorTypeNotRegistered},
		{"plain error", errors.New("boom"), ErrorTypeInternal},
	}

	for _, tc := range cases {
		if got := GetErrorType(tc.err); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestGetErrorTypePrefersStructuredType(t *testing.T) {
	appErr := WrapError(errors.New("status 429"), ErrorTypeQuota, "UPSTREAM_QUOTA", "quota hit", "coingecko")
	wrapped := fmt.Errorf("fetch prices: %w", appErr)

	if got := GetErrorType(wrapped); got != ErrorTypeQuota {
		t.Errorf("expected %s from wrapped AppError, got %s", ErrorTypeQuota, got)
	}
}

func TestWrapErrorRetryability(t *testing.T) {
	cause := errors.New("connection reset")

	if !IsRetryableError(WrapError(cause, ErrorTypeDependency, "HTTP_REQUEST", "request failed", "defillama")) {
		t.Error("dependency failures must be retryable")
	}
	if !IsRetryableError(WrapError(cause, ErrorTypeTimeout, "FETCH_TIMEOUT", "call timed out", "coingecko")) {
		t.Error("timeouts must be retryable")
	}
	if IsRetryableError(WrapError(cause, ErrorTypeQuota, "UPSTREAM_QUOTA", "quota hit", "cryptopanic")) {
		t.Error("quota exhaustion must not be retryable")
	}
	if IsRetryableError(errors.New("boom")) {
		t.Error("untyped errors must not be retryable")
	}
	if !IsRetryableError(ErrDependencyTimeout) {
		t.Error("the timeout sentinel must be retryable")
	}
}

func TestAppErrorUnwrapAndContext(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(cause, ErrorTypeDependency, "HTTP_REQUEST", "request failed", "defillama").
		WithContext("url", "https://api.llama.fi/v2/chains")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause must survive errors.Is")
	}
	if err.Dependency != "defillama" {
		t.Errorf("unexpected dependency: %q", err.Dependency)
	}
	if err.Context["url"] != "https://api.llama.fi/v2/chains" {
		t.Errorf("unexpected context: %v", err.Context)
	}

	msg := err.Error()
	if !strings.Contains(msg, "HTTP_REQUEST") || !strings.Contains(msg, "connection reset") {
		t.Errorf("error string must carry code and cause, got %q", msg)
	}
}
