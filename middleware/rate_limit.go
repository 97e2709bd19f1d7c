package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// refreshWindow tracks manual refreshes from one IP
type refreshWindow struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter caps how often an IP may force a manual refresh; the endpoint
// bypasses every cache, so a held-down refresh button must not translate
// into a request storm upstream.
type RateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*refreshWindow
	maxRequests  int
	windowPeriod time.Duration
}

// NewRateLimiter creates a rate limiter allowing maxRequests per windowPeriod.
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows:      make(map[string]*refreshWindow),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
	go rl.startCleanup()
	return rl
}

// startCleanup periodically removes expired windows
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, w := range rl.windows {
			if now.Sub(w.FirstAt) > rl.windowPeriod {
				delete(rl.windows, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow records a request from ip and reports whether it is within the
// limit, plus how long until the window resets when it is not.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.windows[ip]
	if !exists || now.Sub(w.FirstAt) > rl.windowPeriod {
		rl.windows[ip] = &refreshWindow{Count: 1, FirstAt: now}
		return true, 0
	}

	if w.Count >= rl.maxRequests {
		return false, rl.windowPeriod - now.Sub(w.FirstAt)
	}
	w.Count++
	return true, 0
}

// RefreshRateLimitMiddleware guards the manual-refresh endpoint.
func RefreshRateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.Allow(c.ClientIP())
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many manual refreshes, please wait",
				"retry_after": int(retryAfter.Seconds()) + 1,
			})
			return
		}
		c.Next()
	}
}
