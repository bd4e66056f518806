package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of an API error.
type ErrorType int

// Error type constants categorize errors for proper handling.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates the venue throttled the request.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates invalid or missing credentials.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates invalid request parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates the requested resource does not exist.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a server-side error.
	ErrorTypeServerError
	// ErrorTypeInvalidOrder indicates the order was rejected before or after submission.
	ErrorTypeInvalidOrder
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"BAD_REQUEST",
		"NOT_FOUND",
		"SERVER_ERROR",
		"INVALID_ORDER",
	}[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrNoCredentials is returned when a signed call is attempted without an access key and secret.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrUnroutableMessage marks a stream message whose channel has no handler.
	ErrUnroutableMessage = errors.New("no handler for channel")
	// ErrMalformedMessage marks a stream frame that is not a valid envelope.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownValue is returned by lookup tables for strings they do not know.
	ErrUnknownValue = errors.New("unknown value")
)

// ExchangeError is a failed REST call, carrying the HTTP status and the
// response body as the message.
type ExchangeError struct {
	Type       ErrorType `json:"type"`
	StatusCode int       `json:"status_code"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Path       string    `json:"path"`
	Timestamp  time.Time `json:"timestamp"`

	// VenueStatus is the negative status bitFlyer puts in JSON error bodies, or 0.
	VenueStatus int `json:"venue_status,omitempty"`
}

// Error implements the error interface for ExchangeError.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[bitflyer] %s %s (%d/%s): %s",
			e.Type, e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[bitflyer] %s %s (%d): %s",
		e.Type, e.Path, e.StatusCode, e.Message)
}

// WithCode sets the error code and returns the error for chaining.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// NewExchangeError creates a new ExchangeError. The timestamp is set to the current time.
func NewExchangeError(errorType ErrorType, statusCode int, path, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Path:       path,
		Timestamp:  time.Now(),
	}
}

// ErrorTypeFromStatus maps an HTTP status code onto an ErrorType.
func ErrorTypeFromStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorTypeAuthentication
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeServerError
	case status >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// IsTransportError reports whether err is a failed REST call.
func IsTransportError(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e)
}

// IsNetworkError returns true if the error is a network connectivity issue.
func IsNetworkError(err error) bool {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeNetwork
	}
	return false
}

// IsAuthenticationError returns true if the error is an authentication failure.
func IsAuthenticationError(err error) bool {
	if errors.Is(err, ErrNoCredentials) {
		return true
	}
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeAuthentication
	}
	return false
}

// IsRateLimitError returns true if the venue throttled the request.
func IsRateLimitError(err error) bool {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeRateLimit
	}
	return false
}

// ConnectionError is a failure to dial or keep the streaming connection.
// The stream recovers from it by reconnecting.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DecodeError is a stream payload that could not be turned into a typed record.
type DecodeError struct {
	Channel string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Channel, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
