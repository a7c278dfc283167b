package core

import "errors"

// ErrorCode represents a stable governor error identifier.
type ErrorCode string

// Error code constants.
const (
	// ErrCodeInvalidConfig indicates a malformed tier profile, rule or governor config.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeUnknownOperation indicates an operation with no registered cost rule.
	ErrCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"
	// ErrCodeWouldExceed indicates the budget is not available now.
	ErrCodeWouldExceed ErrorCode = "WOULD_EXCEED"
	// ErrCodeTimedOut indicates the caller's max wait elapsed.
	ErrCodeTimedOut ErrorCode = "TIMED_OUT"
	// ErrCodeRemoteRateLimited indicates a cooldown imposed after a venue violation.
	ErrCodeRemoteRateLimited ErrorCode = "REMOTE_RATE_LIMITED"
	// ErrCodeBanned indicates a non-reducible cooldown after a ban signal.
	ErrCodeBanned ErrorCode = "BANNED"
	// ErrCodeCanceled indicates the caller gave up waiting.
	ErrCodeCanceled ErrorCode = "CANCELED"

	// Transport adapter errors
	ErrCodeClientClosed ErrorCode = "CLIENT_CLOSED"
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"
)

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var gErr *GovernorError
	if errors.As(err, &gErr) {
		return ErrorCode(gErr.Code) == code
	}
	return false
}
