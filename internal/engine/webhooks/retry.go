package webhooks

import (
	"context"
	"math"
	"net/http"
	"time"

	"hookline/internal/platform/config"
	"hookline/internal/platform/models"
)

const maxShift = 62

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RetryClientErrors bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// NewRetryPolicy builds the service-wide policy from configuration.
func NewRetryPolicy(cfg config.WebhooksConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseBackoff > 0 {
		p.BaseDelay = cfg.BaseBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxDelay = cfg.MaxBackoff
	}
	p.RetryClientErrors = cfg.RetryClientErrors
	return p
}

// For applies the subscriber's overrides on top of p.
func (p RetryPolicy) For(sub *models.Subscriber) RetryPolicy {
	if sub.MaxAttempts > 0 {
		p.MaxAttempts = sub.MaxAttempts
	}
	if sub.BaseBackoff > 0 {
		p.BaseDelay = sub.BaseBackoff
	}
	return p
}

// ShouldRetry reports whether another attempt is allowed after attempt.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return ShouldRetry(attempt, p.MaxAttempts)
}

// Delay is the wait after attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := BackoffDelay(attempt, p.BaseDelay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retryable reports whether the failure in o may succeed on a later attempt.
// Transport errors and 5xx are retryable. 4xx is only retried for 408, 429
// or when RetryClientErrors is set.
func (p RetryPolicy) Retryable(o Outcome) bool {
	if o.Success {
		return false
	}
	if o.StatusCode == nil {
		return true
	}
	code := *o.StatusCode
	if code >= 400 && code < 500 {
		return p.RetryClientErrors || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	return true
}

// ShouldRetry reports whether attempt (1-based) leaves room for another
// attempt under maxAttempts.
func ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// BackoffDelay returns base * 2^(attempt-1). It never decreases as attempt
// grows and saturates instead of overflowing.
func BackoffDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	shift := attempt - 1
	if shift < 0 {
		shift = 0
	} else if shift > maxShift {
		shift = maxShift
	}

	multiplier := int64(1) << shift
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
