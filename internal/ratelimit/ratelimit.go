// Package ratelimit implements the fixed-window rate limiter (C4): one
// counter per backend instance, reset every window, backed by Redis when
// configured and falling back to an in-memory counter otherwise (see
// SPEC_FULL.md §3.4 and DESIGN.md's Open Question note on window
// semantics).
package ratelimit

import (
	"context"

	"github.com/opsgateway/issuegateway/internal/apierrors"
)

// Limiter is the fixed-window rate limiter contract both backends
// implement.
type Limiter interface {
	// Check increments the instance's counter and returns an
	// *apierrors.Error (KindRateLimited) if the window's ceiling has
	// been reached.
	Check(ctx context.Context, instanceID string, ceiling, windowSeconds int) error
	// Remaining returns how many requests are left in the current
	// window for instanceID.
	Remaining(ctx context.Context, instanceID string, ceiling int) (int, error)
	// Reset clears the counter for instanceID, e.g. after a rate-limit
	// configuration change.
	Reset(ctx context.Context, instanceID string) error
}

func rateLimitedError(instanceID string, ceiling, windowSeconds, retryAfter int) error {
	if retryAfter < 1 {
		retryAfter = windowSeconds
	}
	return apierrors.RateLimited(
		"rate limit exceeded for instance "+instanceID,
		retryAfter,
	)
}
