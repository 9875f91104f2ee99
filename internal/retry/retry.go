// Package retry governs retry behavior for transient storage errors,
// generalizing the teacher's internal/app/core/service.RetryPolicy with
// jitter, per the spec's "exponential backoff ... with jitter" requirement.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

// Policy governs retry behavior for a call.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // fraction of backoff to randomize, e.g. 0.2 = +/-20%
}

// Default matches the spec's "up to 3 attempts ... starting ~100ms" policy.
var Default = Policy{
	Attempts:       3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
	Jitter:         0.2,
}

// Do executes fn, retrying only while fn returns a retryable
// *apperrors.DomainError, up to policy.Attempts times. Business errors
// (non-retryable) are returned immediately without retry.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}
	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.Attempts {
			return lastErr
		}
		wait := jittered(backoff, policy.Jitter)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		next := time.Duration(float64(backoff) * policy.Multiplier)
		if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
			next = policy.MaxBackoff
		}
		backoff = next
	}
	return lastErr
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
