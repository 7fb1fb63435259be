package resilience

import (
	"context"
	"time"
)

// Policy is the full protection applied to one outbound GIS request:
// a per-host circuit breaker around a retry loop.
type Policy struct {
	Retry    RetryConfig
	Breakers *ServiceBreakers
}

// NewPolicy builds a Policy from config values. Non-positive values keep
// the defaults.
func NewPolicy(maxAttempts, initialBackoffMs, maxBackoffMs, breakerThreshold, breakerResetSecs int) Policy {
	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		retry.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}

	breaker := DefaultCircuitBreakerConfig()
	if breakerThreshold > 0 {
		breaker.FailureThreshold = breakerThreshold
	}
	if breakerResetSecs > 0 {
		breaker.ResetTimeout = time.Duration(breakerResetSecs) * time.Second
	}

	return Policy{Retry: retry, Breakers: NewServiceBreakers(breaker)}
}

// Call runs fn under the policy for the given host. The breaker sees one
// outcome per Call, after retries are exhausted.
func Call[T any](ctx context.Context, p Policy, host, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(host, operation)
	}
	attempt := func(ctx context.Context) (T, error) {
		return DoVal(ctx, retry, fn)
	}
	if p.Breakers == nil {
		return attempt(ctx)
	}
	return ExecuteVal(ctx, p.Breakers.Get(host), attempt)
}
