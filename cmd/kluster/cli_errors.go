// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the kluster CLI.
package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/kluster/pkg/errors"
)

// Exit codes.
const (
	exitOK               = 0
	exitFailure          = 1
	exitConfiguration    = 2
	exitStoreUnavailable = 3
	exitDataShape        = 4
)

// CLIError wraps KlusterError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.KlusterError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ke *errors.KlusterError, hint string) *CLIError {
	return &CLIError{
		KlusterError: ke,
		Hint:         hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.KlusterError == nil {
		return "unknown error"
	}

	msg := e.KlusterError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	if e.KlusterError == nil {
		return nil
	}
	return e.KlusterError
}

// PrintError writes the error with appropriate formatting.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]any{
			"error": map[string]string{
				"code":    string(e.Code),
				"message": e.Message,
				"hint":    e.Hint,
			},
		})
		fmt.Fprintln(w, string(payload))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// toCLIError attaches a hint matching the error code. Errors without a code become INTERNAL_ERROR.
func toCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	var ke *errors.KlusterError
	if !stderrors.As(err, &ke) {
		ke = errors.New(errors.CodeInternal, err.Error(), nil)
	}
	return NewCLIError(ke, hintFor(ke.Code))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeConfiguration:
		return "check --config, KLUSTER_ variables and --set overrides, or seed the store with 'kluster seed <file>'"
	case errors.CodeStoreUnavailable:
		return "check that the configured store is reachable; raise store.call_timeout_seconds for slow backends"
	case errors.CodeDataShape:
		return "every point and centroid must have cluster.dimension coordinates"
	case errors.CodeInvalidInput:
		return "run 'kluster help' for usage information"
	default:
		return ""
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ke := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithContext("reason", reason).
		WithRecoverable(false)
	return NewCLIError(ke, hintFor(errors.CodeInvalidInput))
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch {
	case errors.HasCode(err, errors.CodeConfiguration), errors.HasCode(err, errors.CodeInvalidInput):
		return exitConfiguration
	case errors.HasCode(err, errors.CodeStoreUnavailable):
		return exitStoreUnavailable
	case errors.HasCode(err, errors.CodeDataShape):
		return exitDataShape
	default:
		return exitFailure
	}
}
