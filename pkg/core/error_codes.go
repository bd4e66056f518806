package core

import "errors"

// ErrorCode is a stable, machine-readable identifier attached to an ExchangeError.
type ErrorCode string

const (
	ErrCodeNetwork      ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"
	ErrCodeAuth         ErrorCode = "AUTH_ERROR"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeServerError  ErrorCode = "SERVER_ERROR"
	ErrCodeInvalidOrder ErrorCode = "INVALID_ORDER"
)

// codeForType gives the default ErrorCode for an ErrorType.
func codeForType(t ErrorType) ErrorCode {
	switch t {
	case ErrorTypeNetwork:
		return ErrCodeNetwork
	case ErrorTypeTimeout:
		return ErrCodeTimeout
	case ErrorTypeRateLimit:
		return ErrCodeRateLimit
	case ErrorTypeAuthentication:
		return ErrCodeAuth
	case ErrorTypeBadRequest:
		return ErrCodeBadRequest
	case ErrorTypeNotFound:
		return ErrCodeNotFound
	case ErrorTypeServerError:
		return ErrCodeServerError
	case ErrorTypeInvalidOrder:
		return ErrCodeInvalidOrder
	default:
		return ""
	}
}

// NewStatusError builds an ExchangeError for a non-2xx response, deriving the
// type and code from the status.
func NewStatusError(statusCode int, path, body string) *ExchangeError {
	t := ErrorTypeFromStatus(statusCode)
	return NewExchangeError(t, statusCode, path, body).WithCode(codeForType(t))
}

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
