// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

func blockUntilDone(wait time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			return nil
		}
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", 1 * time.Second, 10 * time.Millisecond, false},
		{"slow operation", 20 * time.Millisecond, 2 * time.Second, true},
		{"no timeout", 0, 10 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), TimeoutConfig{Duration: tt.duration}, blockUntilDone(tt.sleepTime))
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected timeout error")
				}
				if !kerrors.HasCode(err, kerrors.CodeTimeout) {
					t.Errorf("expected CodeTimeout, got %v", err)
				}
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Errorf("expected deadline cause to be preserved")
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithTimeoutPassesErrorsThrough(t *testing.T) {
	want := errors.New("disk full")
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: time.Second}, func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected original error, got %v", err)
	}
	if kerrors.HasCode(err, kerrors.CodeTimeout) {
		t.Fatal("non-deadline errors must not be reported as timeouts")
	}
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, TimeoutConfig{Duration: time.Second}, blockUntilDone(time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if kerrors.HasCode(err, kerrors.CodeTimeout) {
		t.Fatal("parent cancellation is not a timeout")
	}
}
