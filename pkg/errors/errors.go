// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Ergon.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Ergon errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfiguration indicates an invalid agent, protocol, or capability
	// configuration. Never retried.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeTransientProvider indicates a provider/network failure that is safe
	// to retry: connection errors, mid-stream disconnects, timeouts.
	CodeTransientProvider ErrorCode = "TRANSIENT_PROVIDER_ERROR"

	// CodeToolNotFound indicates a tool call referenced a name absent from the
	// agent's function list.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// CodeToolFailure indicates a matched tool failed during execution.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeMalformedToolCall indicates a fenced tool block was not valid JSON or
	// lacked required keys. Surfaced only through parse results, never raised.
	CodeMalformedToolCall ErrorCode = "MALFORMED_TOOL_CALL"

	// CodeContextLost indicates context was cancelled while waiting.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeProvider indicates a non-transient LLM provider error.
	CodeProvider ErrorCode = "PROVIDER_ERROR"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: code == CodeTransientProvider || code == CodeTimeout,
	}
}

// Newf creates a new Error with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// AsError attempts to convert an error to a typed *Error.
// Returns the error unchanged if it is one, or wraps it as internal otherwise.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first typed error in the chain, or
// CodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain contains a typed error with code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	return stderrors.As(err, &te) && te.Code == code
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
