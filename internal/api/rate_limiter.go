package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per account
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	limit     rate.Limit
	burstSize int
}

// NewRateLimiter allows perMinute requests per account with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}

	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     limit,
		burstSize: burst,
	}
}

// getLimiter returns the limiter of an account
func (rl *RateLimiter) getLimiter(accountID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[accountID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[accountID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.limit, rl.burstSize)
	rl.limiters[accountID] = limiter

	return limiter
}

// RateLimitMiddleware enforces the per-account budget. Admins are exempt.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerFrom(r.Context())
			if caller.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}

			key := caller.AccountID
			if key == "" {
				key = r.RemoteAddr
			}

			if !rl.getLimiter(key).Allow() {
				respondError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Submission rate limit exceeded. Please try again later.", map[string]interface{}{
					"accountId": key,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
