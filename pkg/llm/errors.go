package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies completion failures for retry decisions and
// user-facing reporting.
type ErrorType int8

// Error types, grouped by retry behavior.
const (
	// ErrorTypeRateLimit covers 429 and quota-exceeded responses. Retryable.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx, timeouts, EOF, connection resets. Retryable.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse covers HTTP 200 with no content. Retryable.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth covers 401/403 and bad API keys. Not retryable.
	ErrorTypeAuth
	// ErrorTypeBadPrompt covers malformed or oversized requests. Not retryable.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified failures.
	ErrorTypeUnknown
)

// String returns the string form of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether failures of this type are worth retrying.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Error is a classified completion failure.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("llm error (%s)", e.Type)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error with a message.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// NewErrorWithCause creates a classified error wrapping a cause.
func NewErrorWithCause(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Err: err, Message: message}
}

// TypeOf extracts the classification of err, running the shared heuristics
// when err is not already a classified *Error.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Type
	}
	return Classify(err).Type
}

// Classify maps an arbitrary provider error into a classified *Error using
// status codes and message patterns. Providers share this so retry behavior
// is identical regardless of SDK.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	errStr := strings.ToLower(err.Error())

	switch code := extractStatusCode(errStr); code {
	case 401, 403:
		return &Error{Type: ErrorTypeAuth, Err: err, StatusCode: code, Message: "authentication failed - check API key"}
	case 429:
		return &Error{Type: ErrorTypeRateLimit, Err: err, StatusCode: code, Message: "rate limit exceeded"}
	case 400:
		return &Error{Type: ErrorTypeBadPrompt, Err: err, StatusCode: code, Message: "bad request - check prompt format"}
	case 500, 502, 503, 504:
		return &Error{Type: ErrorTypeTransient, Err: err, StatusCode: code, Message: "server error"}
	}

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "temporary"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(errStr, "rate"),
		strings.Contains(errStr, "quota"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "auth"),
		strings.Contains(errStr, "api key"),
		strings.Contains(errStr, "unauthorized"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(errStr, "empty response"):
		return NewErrorWithCause(ErrorTypeEmptyResponse, err, "empty response")
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "malformed"),
		strings.Contains(errStr, "too large"),
		strings.Contains(errStr, "context length"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

// extractStatusCode pulls an HTTP status code out of an error string.
// Provider SDKs usually embed it in the message.
func extractStatusCode(errStr string) int {
	codes := []struct {
		needle string
		code   int
	}{
		{"400", 400}, {"401", 401}, {"403", 403}, {"429", 429},
		{"500", 500}, {"502", 502}, {"503", 503}, {"504", 504},
	}
	for _, pattern := range []string{"status code: ", "status: ", "http "} {
		idx := strings.Index(errStr, pattern)
		if idx == -1 {
			continue
		}
		rest := errStr[idx+len(pattern):]
		for _, c := range codes {
			if strings.HasPrefix(rest, c.needle) {
				return c.code
			}
		}
	}
	return 0
}
