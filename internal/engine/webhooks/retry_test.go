package webhooks

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookline/internal/platform/config"
	"hookline/internal/platform/models"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		attempt, max int
		want         bool
	}{
		{1, 3, true},
		{2, 3, true},
		{3, 3, false},
		{4, 3, false},
		{1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldRetry(tt.attempt, tt.max), "ShouldRetry(%d, %d)", tt.attempt, tt.max)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, BackoffDelay(1, base))
	assert.Equal(t, 2*time.Second, BackoffDelay(2, base))
	assert.Equal(t, 4*time.Second, BackoffDelay(3, base))
	assert.Equal(t, time.Duration(0), BackoffDelay(3, 0))
	assert.Equal(t, time.Second, BackoffDelay(0, base))
}

func TestBackoffDelay_MonotonicAndSaturating(t *testing.T) {
	prev := time.Duration(0)
	for n := 1; n <= 100; n++ {
		d := BackoffDelay(n, 250*time.Millisecond)
		require.GreaterOrEqual(t, d, prev, "attempt %d", n)
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), prev)
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(60))
}

func TestRetryPolicy_For(t *testing.T) {
	p := NewRetryPolicy(config.WebhooksConfig{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute})

	assert.Equal(t, p, p.For(&models.Subscriber{}))

	custom := p.For(&models.Subscriber{MaxAttempts: 7, BaseBackoff: 100 * time.Millisecond})
	assert.Equal(t, 7, custom.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, custom.BaseDelay)
	assert.Equal(t, time.Minute, custom.MaxDelay)
}

func TestRetryPolicy_Retryable(t *testing.T) {
	code := func(c int) *int { return &c }

	tests := []struct {
		name         string
		outcome      Outcome
		clientErrors bool
		want         bool
	}{
		{"success", Outcome{Success: true, StatusCode: code(200)}, false, false},
		{"transport error", Outcome{Err: context.DeadlineExceeded}, false, true},
		{"server error", Outcome{StatusCode: code(503)}, false, true},
		{"not found", Outcome{StatusCode: code(404)}, false, false},
		{"request timeout", Outcome{StatusCode: code(408)}, false, true},
		{"too many requests", Outcome{StatusCode: code(429)}, false, true},
		{"client errors enabled", Outcome{StatusCode: code(400)}, true, true},
		{"redirect", Outcome{StatusCode: code(302)}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := RetryPolicy{RetryClientErrors: tt.clientErrors}
			assert.Equal(t, tt.want, p.Retryable(tt.outcome))
		})
	}
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
