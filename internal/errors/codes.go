package errors

// ErrorCode represents a machine-readable error identifier returned to API clients.
type ErrorCode string

// Authentication errors
const (
	// Token mismatch on a merchant request or bad system credentials
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	// Card number / password pair rejected on the payment page
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
)

// Validation Errors (Request input validation)
const (
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeInvalidField  ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
	ErrCodeInvalidCard   ErrorCode = "invalid_card"
)

// Resource/State Errors (Resource not found or in wrong state)
const (
	ErrCodeSessionNotFound ErrorCode = "session_not_found"
	ErrCodeAccountNotFound ErrorCode = "account_not_found"
	ErrCodeAccountDeleted  ErrorCode = "account_deleted"

	// Dead-lettered merchant notification, or no dead letter queue configured
	ErrCodeNotificationNotFound ErrorCode = "notification_not_found"
)

// Conflict errors
const (
	// Idempotency-Key reused with a different body, or while the first request is still running
	ErrCodeIdempotencyConflict ErrorCode = "idempotency_conflict"
)

// Ledger errors
const (
	ErrCodeBadTransaction    ErrorCode = "bad_transaction"
	ErrCodeInsufficientFunds ErrorCode = "insufficient_funds"
)

// Traffic errors
const (
	ErrCodeRateLimited ErrorCode = "rate_limited"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Only throttling is transient; ledger and validation failures are permanent for a given request.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRateLimited, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation and ledger rule failures
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidCard,
		ErrCodeBadTransaction,
		ErrCodeInsufficientFunds:
		return 400

	// 401 Unauthorized
	case ErrCodeUnauthorized,
		ErrCodeInvalidCredentials:
		return 401

	// 404 Not Found
	case ErrCodeSessionNotFound,
		ErrCodeAccountNotFound,
		ErrCodeAccountDeleted,
		ErrCodeNotificationNotFound:
		return 404

	// 409 Conflict
	case ErrCodeIdempotencyConflict:
		return 409

	// 429 Too Many Requests
	case ErrCodeRateLimited:
		return 429

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
