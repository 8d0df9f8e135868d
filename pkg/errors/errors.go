// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Kluster.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Kluster errors for monitoring and exit status.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfiguration indicates the run cannot start with the current data or settings
	// (no centroids, no points for the label, bad iteration limit).
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeStoreUnavailable indicates a read or write against the backing store failed.
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// CodeDataShape indicates a coordinate vector has the wrong dimensionality.
	CodeDataShape ErrorCode = "DATA_SHAPE_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// KlusterError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type KlusterError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *KlusterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *KlusterError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *KlusterError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new KlusterError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *KlusterError {
	return &KlusterError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *KlusterError) WithContext(key string, value interface{}) *KlusterError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *KlusterError) WithRecoverable(recoverable bool) *KlusterError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *KlusterError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsKlusterError attempts to convert an error to a KlusterError.
// Returns the first KlusterError in the chain, or wraps err as internal otherwise.
func AsKlusterError(err error) *KlusterError {
	if err == nil {
		return nil
	}
	var ke *KlusterError
	if stderrors.As(err, &ke) {
		return ke
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first KlusterError in the chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var ke *KlusterError
	if stderrors.As(err, &ke) {
		return ke.Code
	}
	return CodeInternal
}

// HasCode reports whether any KlusterError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if ke, ok := err.(*KlusterError); ok && ke.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Configuration builds a CONFIGURATION_ERROR.
func Configuration(msg string) *KlusterError {
	return New(CodeConfiguration, msg, nil)
}

// StoreUnavailable wraps a failed store call. The store call is named in the context.
func StoreUnavailable(op string, cause error) *KlusterError {
	return New(CodeStoreUnavailable, "store "+op+" failed", cause).
		WithContext("operation", op).
		WithRecoverable(true)
}

// DataShape builds a DATA_SHAPE_ERROR for a record whose vector has the wrong length.
func DataShape(kind, id string, expected, actual int) *KlusterError {
	return New(CodeDataShape, fmt.Sprintf("%s %q has dimension %d, expected %d", kind, id, actual, expected), nil).
		WithContext("kind", kind).
		WithContext("id", id).
		WithContext("expected", expected).
		WithContext("actual", actual)
}
