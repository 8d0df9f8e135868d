// SPDX-License-Identifier: Apache-2.0
// Package resilience bounds blocking store calls with deadlines.
//
// Nothing here retries: a call either finishes inside its deadline or fails with
// errors.CodeTimeout and the caller decides what that means.
package resilience

import (
	"context"
	"errors"
	"time"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation. Zero disables the deadline.
	Duration time.Duration
}

// WithTimeout runs fn with a context bounded by config.Duration.
// fn must honor the context it receives. Returns errors.CodeTimeout if the deadline is exceeded.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(context.Context) error) error {
	if config.Duration <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return kerrors.New(kerrors.CodeTimeout, "operation exceeded timeout", err).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	}
	return err
}
