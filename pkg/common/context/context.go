// Package context holds small helpers for inspecting context state.
package context

import (
	"context"
	"errors"
)

// IsCanceled returns true if the context has been canceled or has expired.
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context ended because its deadline passed.
func IsTimedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Reason returns a short label describing why ctx ended, or "" if it is
// still live. Intended for log attributes.
func Reason(ctx context.Context) string {
	switch err := ctx.Err(); {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "canceled"
	}
}
