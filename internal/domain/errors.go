package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a source could not contribute to an aggregation.
type ErrorCode string

const (
	// ErrCodeSourceUnreachable covers transport errors, timeouts, non-2xx
	// responses and an open circuit breaker.
	ErrCodeSourceUnreachable ErrorCode = "SOURCE_UNREACHABLE"
	// ErrCodeSourceMalformed covers empty bodies and bodies that are not a
	// valid OpenAPI or Swagger description.
	ErrCodeSourceMalformed ErrorCode = "SOURCE_MALFORMED"
)

// Sentinels for errors.Is matching against a *SourceError.
var (
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrSourceMalformed   = errors.New("source malformed")
)

// SourceError is returned by document fetchers. It never escapes an
// aggregation run: the use case records it and skips the source.
type SourceError struct {
	Code    ErrorCode
	Source  string
	Message string
	Cause   error
}

// NewSourceError builds a SourceError for the given source key.
func NewSourceError(code ErrorCode, source, message string, cause error) *SourceError {
	return &SourceError{Code: code, Source: source, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] source %s: %s: %v", e.Code, e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] source %s: %s", e.Code, e.Source, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SourceError) Unwrap() error {
	return e.Cause
}

// Is matches the code sentinels.
func (e *SourceError) Is(target error) bool {
	switch target {
	case ErrSourceUnreachable:
		return e.Code == ErrCodeSourceUnreachable
	case ErrSourceMalformed:
		return e.Code == ErrCodeSourceMalformed
	}
	return false
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a
// *SourceError.
func CodeOf(err error) ErrorCode {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
