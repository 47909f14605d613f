package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	apiContext "hookline/internal/api/context"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/config"
)

const (
	LimitAPIRead  = "api_read"
	LimitAPIWrite = "api_write"
	LimitEvents   = "events"

	idleTTL = 10 * time.Minute
)

type RateLimiter struct {
	store  *sync.Map // map[string]*limiterEntry
	limits map[string]int
	done   chan struct{}
	once   sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		store: &sync.Map{},
		limits: map[string]int{
			LimitAPIRead:  cfg.APIReadPerMinute,
			LimitAPIWrite: cfg.APIWritePerMinute,
			LimitEvents:   cfg.EventsPerMinute,
		},
		done: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.store.Range(func(key, value interface{}) bool {
		entry := value.(*limiterEntry)
		if now.Sub(time.Unix(0, entry.lastAccess.Load())) > idleTTL {
			rl.store.Delete(key)
		}
		return true
	})
}

// Allow spends one token from key's bucket. limit is per minute with a
// burst of the full minute.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	val, ok := rl.store.Load(key)
	if !ok {
		fresh := &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit)}
		val, _ = rl.store.LoadOrStore(key, fresh)
	}

	entry := val.(*limiterEntry)
	entry.lastAccess.Store(time.Now().UnixNano())
	return entry.limiter.Allow()
}

// Limit rate-limits by tenant when TenantMiddleware ran first, by client IP
// otherwise.
func (rl *RateLimiter) Limit(limitType string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var key string
			if tenant, ok := r.Context().Value(apiContext.Tenant).(*TenantContext); ok {
				key = fmt.Sprintf("%s:%s", tenant.TenantID, limitType)
			} else {
				key = fmt.Sprintf("%s:%s", clientIP(r), limitType)
			}

			if !rl.Allow(key, rl.limits[limitType]) {
				w.Header().Set("Retry-After", "60")
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
