package types

import "fmt"

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

const (
	// ErrTransport covers connection failures and timeouts. Retryable.
	ErrTransport ErrorCode = "TRANSPORT"
	// ErrRetryableHTTP covers HTTP 429/502/503/504. Retried with backoff.
	ErrRetryableHTTP ErrorCode = "RETRYABLE_HTTP"
	// ErrTerminalHTTP covers any other non-2xx status. Never retried.
	ErrTerminalHTTP ErrorCode = "TERMINAL_HTTP"
	// ErrParse covers response shape mismatches. A config error, not transience.
	ErrParse ErrorCode = "PARSE"
	// ErrProviderBusiness covers HTTP-success payloads that signal application
	// failure, e.g. a Gemini finishReason of OTHER or a proxy error envelope.
	ErrProviderBusiness ErrorCode = "PROVIDER_BUSINESS"
	// ErrPollTimeout means an async task never resolved within the polling window.
	ErrPollTimeout ErrorCode = "POLL_TIMEOUT"
	// ErrAllProvidersFailed means every failover candidate was exhausted.
	ErrAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
	// ErrNoEndpoint means no endpoint is configured for the model/mode.
	ErrNoEndpoint ErrorCode = "NO_ENDPOINT"
	// ErrInvalidConfig covers malformed provider/endpoint/mode configuration.
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error is a structured error with code, message, and provider context.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// RetryableStatus reports whether an HTTP status code should be retried.
func RetryableStatus(status int) bool {
	switch status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}
