// Package errors defines the structured error taxonomy for the console.
// Every failure surfaced to the presentation layer carries a code so the
// UI can decide between inline validation, connection badges, and
// auto-expiring notifications.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a console failure.
type ErrorCode string

const (
	// ErrCodeTransport covers connect and inbound-parse failures on the
	// streaming channel. Recovered by the reconnect loop; surfaced only
	// as connection state.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeRequest covers inventory/detail fetch failures. Prior data
	// is retained unmodified.
	ErrCodeRequest ErrorCode = "REQUEST"

	// ErrCodeValidation covers input rejected before any network call:
	// blank query, missing or non-numeric pid, empty name/port.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeProtectedTarget is returned when a destructive action is
	// requested against a protected entity. The confirmation stage is
	// never entered.
	ErrCodeProtectedTarget ErrorCode = "PROTECTED_TARGET"

	// ErrCodeActionDispatch is an executor-reported failure for a
	// destructive command. No automatic retry.
	ErrCodeActionDispatch ErrorCode = "ACTION_DISPATCH"

	// ErrCodeInternal is the catch-all for bugs.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is a structured console error.
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Retryable   bool
	UserMessage string
}

// New creates a structured error.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with console error context.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds a context key-value pair to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the human-friendly message shown in notifications.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}
	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Display returns the text a notification should show: the user message
// when one was set, otherwise the raw message.
func (e *Error) Display() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsCode reports whether err (or anything it wraps) carries the code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}

// CodeOf extracts the error code, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}
