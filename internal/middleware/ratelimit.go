package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HSLdevcom/hfp-analytics-sub000/pkg/response"
)

// maxTrackedClients is the map size above which stale clients are pruned
const maxTrackedClients = 1024

// RateLimiter is a sliding-window limiter keyed by client
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // Maximum requests per window
	window   time.Duration // Time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter. Clients without a request in the
// current window are pruned once more than 1024 clients are tracked.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request of the client and reports whether it is within the limit.
// When refused, retryAfter is the time until the oldest request leaves the window.
func (rl *RateLimiter) Allow(client string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := recent(rl.requests[client], now, rl.window)
	if len(valid) >= rl.limit {
		rl.requests[client] = valid
		return false, rl.window - now.Sub(valid[0])
	}
	rl.requests[client] = append(valid, now)

	if len(rl.requests) > maxTrackedClients {
		for k, times := range rl.requests {
			if len(recent(times, now, rl.window)) == 0 {
				delete(rl.requests, k)
			}
		}
	}
	return true, 0
}

func recent(times []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= window {
		i++
	}
	return times[i:]
}

// RateLimit limits requests per client IP; a limit of 0 disables it
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewRateLimiter(limit, window)

	return func(c *gin.Context) {
		ok, retry := limiter.Allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			response.Error(c, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}
