package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a governor error.
type ErrorType int

// Error type constants categorize governor decisions for proper handling by callers.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConfiguration indicates an unknown operation or a malformed tier profile.
	// Configuration errors are fatal and must not be retried.
	ErrorTypeConfiguration
	// ErrorTypeWouldExceed indicates a try-mode rejection: the budget is not available now.
	ErrorTypeWouldExceed
	// ErrorTypeTimedOut indicates the caller's max wait elapsed before admission.
	ErrorTypeTimedOut
	// ErrorTypeRemoteRateLimited indicates the venue reported a quota violation.
	ErrorTypeRemoteRateLimited
	// ErrorTypeCanceled indicates the caller's context ended while waiting for admission.
	ErrorTypeCanceled
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"CONFIGURATION",
		"WOULD_EXCEED",
		"TIMED_OUT",
		"REMOTE_RATE_LIMITED",
		"CANCELED",
	}[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrUnknownOperation is returned when an operation has no registered cost rule.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrUnknownDimension is returned when a cost touches a dimension the tier profile does not declare.
	ErrUnknownDimension = errors.New("unknown dimension")
	// ErrUnknownCategory is returned when a rule references an undeclared category.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrCostExceedsCapacity is returned when a single cost can never fit its dimension.
	ErrCostExceedsCapacity = errors.New("cost exceeds dimension capacity")
	ErrNegativeCost        = errors.New("negative cost")
	// ErrInvalidProfile is returned when a tier profile fails validation.
	ErrInvalidProfile = errors.New("invalid tier profile")
)

// GovernorError represents a structured admission decision or configuration failure.
// It provides enough context for callers to decide whether and when to retry.
type GovernorError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// Code is the stable machine-readable error code.
	Code string `json:"code"`
	// Operation is the operation identifier being admitted, if any.
	Operation string `json:"operation,omitempty"`
	// Dimension is the quota axis that blocked admission, if any.
	Dimension string `json:"dimension,omitempty"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// RetryAfter is the governor's estimate of when admission may succeed.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface for GovernorError.
func (e *GovernorError) Error() string {
	msg := fmt.Sprintf("%s (%s)", e.Type, e.Code)
	if e.Operation != "" {
		msg += " op=" + e.Operation
	}
	if e.Dimension != "" {
		msg += " dimension=" + e.Dimension
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause so errors.Is and errors.As see through GovernorError.
func (e *GovernorError) Unwrap() error {
	return e.Err
}

// WithOperation sets the operation identifier and returns the error for chaining.
func (e *GovernorError) WithOperation(op string) *GovernorError {
	e.Operation = op
	return e
}

// WithDimension sets the blocking dimension and returns the error for chaining.
func (e *GovernorError) WithDimension(dim string) *GovernorError {
	e.Dimension = dim
	return e
}

// WithRetryAfter sets the retry estimate and returns the error for chaining.
func (e *GovernorError) WithRetryAfter(d time.Duration) *GovernorError {
	e.RetryAfter = d
	return e
}

// NewConfigurationError creates an error for an unknown operation or malformed profile.
func NewConfigurationError(message string, cause error) *GovernorError {
	return &GovernorError{
		Type:    ErrorTypeConfiguration,
		Code:    string(ErrCodeInvalidConfig),
		Message: message,
		Err:     cause,
	}
}

// NewUnknownOperationError creates a configuration error for an operation with no cost rule.
func NewUnknownOperationError(op string) *GovernorError {
	return &GovernorError{
		Type:      ErrorTypeConfiguration,
		Code:      string(ErrCodeUnknownOperation),
		Operation: op,
		Message:   "no cost rule registered",
		Err:       ErrUnknownOperation,
	}
}

// NewWouldExceedError creates a try-mode rejection for the blocking dimension.
func NewWouldExceedError(op, dimension string, retryAfter time.Duration) *GovernorError {
	return &GovernorError{
		Type:       ErrorTypeWouldExceed,
		Code:       string(ErrCodeWouldExceed),
		Operation:  op,
		Dimension:  dimension,
		Message:    "budget not available",
		RetryAfter: retryAfter,
	}
}

// NewTimedOutError creates an error reporting that maxWait elapsed before admission.
func NewTimedOutError(op string, maxWait time.Duration) *GovernorError {
	return &GovernorError{
		Type:      ErrorTypeTimedOut,
		Code:      string(ErrCodeTimedOut),
		Operation: op,
		Message:   fmt.Sprintf("not admitted within %s", maxWait),
	}
}

// NewRemoteRateLimitedError creates an error describing a venue-reported violation.
func NewRemoteRateLimitedError(dimension string, cooldown time.Duration) *GovernorError {
	return &GovernorError{
		Type:       ErrorTypeRemoteRateLimited,
		Code:       string(ErrCodeRemoteRateLimited),
		Dimension:  dimension,
		Message:    "cooling down after venue rate limit",
		RetryAfter: cooldown,
	}
}

// NewCanceledError wraps a context error observed while waiting for admission.
func NewCanceledError(op string, cause error) *GovernorError {
	return &GovernorError{
		Type:      ErrorTypeCanceled,
		Code:      string(ErrCodeCanceled),
		Operation: op,
		Message:   "wait canceled",
		Err:       cause,
	}
}

func errorTypeOf(err error) ErrorType {
	var gErr *GovernorError
	if errors.As(err, &gErr) {
		return gErr.Type
	}
	return ErrorTypeUnknown
}

// IsConfigurationError returns true if the error is a configuration failure.
// Configuration errors are not retryable.
func IsConfigurationError(err error) bool {
	return errorTypeOf(err) == ErrorTypeConfiguration
}

// IsWouldExceed returns true if the error is a try-mode rejection.
func IsWouldExceed(err error) bool {
	return errorTypeOf(err) == ErrorTypeWouldExceed
}

// IsTimedOut returns true if the caller's max wait elapsed before admission.
func IsTimedOut(err error) bool {
	return errorTypeOf(err) == ErrorTypeTimedOut
}

// IsRemoteRateLimited returns true if the error reflects a venue-reported violation.
func IsRemoteRateLimited(err error) bool {
	return errorTypeOf(err) == ErrorTypeRemoteRateLimited
}

// IsCanceled returns true if the caller's context ended while waiting.
func IsCanceled(err error) bool {
	return errorTypeOf(err) == ErrorTypeCanceled
}

// IsRetryable returns true if waiting and retrying the acquire may succeed.
func IsRetryable(err error) bool {
	switch errorTypeOf(err) {
	case ErrorTypeWouldExceed, ErrorTypeTimedOut, ErrorTypeRemoteRateLimited:
		return true
	}
	return false
}
