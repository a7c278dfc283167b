package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		want      string
	}{
		{ErrorTypeUnknown, "UNKNOWN"},
		{ErrorTypeConfiguration, "CONFIGURATION"},
		{ErrorTypeWouldExceed, "WOULD_EXCEED"},
		{ErrorTypeTimedOut, "TIMED_OUT"},
		{ErrorTypeRemoteRateLimited, "REMOTE_RATE_LIMITED"},
		{ErrorTypeCanceled, "CANCELED"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.errorType.String())
		})
	}
}

func TestGovernorError_Error(t *testing.T) {
	err := NewWouldExceedError("get_depth", "weight", 2*time.Second)

	assert.Equal(t, "WOULD_EXCEED (WOULD_EXCEED) op=get_depth dimension=weight: budget not available", err.Error())
	assert.Equal(t, 2*time.Second, err.RetryAfter)
}

func TestGovernorError_Unwrap(t *testing.T) {
	err := NewCanceledError("place_order", context.Canceled)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, IsCanceled(err))

	wrapped := fmt.Errorf("acquire: %w", err)
	assert.True(t, IsCanceled(wrapped))
	assert.True(t, errors.Is(wrapped, context.Canceled))
}

func TestUnknownOperationError(t *testing.T) {
	err := NewUnknownOperationError("nope")

	assert.True(t, IsConfigurationError(err))
	assert.True(t, errors.Is(err, ErrUnknownOperation))
	assert.True(t, IsErrorCode(err, ErrCodeUnknownOperation))
	assert.False(t, IsRetryable(err))
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		check     func(error) bool
		retryable bool
	}{
		{"configuration", NewConfigurationError("bad", ErrInvalidProfile), IsConfigurationError, false},
		{"would_exceed", NewWouldExceedError("op", "weight", time.Second), IsWouldExceed, true},
		{"timed_out", NewTimedOutError("op", time.Second), IsTimedOut, true},
		{"remote_rate_limited", NewRemoteRateLimitedError("weight", time.Second), IsRemoteRateLimited, true},
		{"canceled", NewCanceledError("op", context.DeadlineExceeded), IsCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}

	plain := errors.New("plain")
	assert.False(t, IsConfigurationError(plain))
	assert.False(t, IsWouldExceed(plain))
	assert.False(t, IsTimedOut(plain))
	assert.False(t, IsRemoteRateLimited(plain))
	assert.False(t, IsCanceled(plain))
	assert.False(t, IsErrorCode(plain, ErrCodeWouldExceed))
}

func TestGovernorError_Chaining(t *testing.T) {
	err := NewRemoteRateLimitedError("orders", time.Second).
		WithOperation("place_order").
		WithDimension("orders_10s").
		WithRetryAfter(3 * time.Second)

	assert.Equal(t, "place_order", err.Operation)
	assert.Equal(t, "orders_10s", err.Dimension)
	assert.Equal(t, 3*time.Second, err.RetryAfter)
	assert.True(t, IsErrorCode(err, ErrCodeRemoteRateLimited))
}
