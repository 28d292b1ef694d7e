// Package middleware holds gin middleware shared by the HTTP entrypoints.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
)

const CodeRateLimited = "RATE_LIMITED"

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client. Buckets idle for longer than
// ttl are dropped on the next sweep.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	nowFunc   func() time.Time
}

func NewRateLimiter(perSecond float64, burst int, ttl time.Duration) *RateLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Allow reports whether client may make another request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	if now.Sub(rl.lastSweep) > rl.ttl {
		for k, e := range rl.clients {
			if now.Sub(e.lastSeen) > rl.ttl {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.clients[client]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[client] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns how many clients are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Limit rejects requests over the client's budget with 429. Clients are keyed
// by IP address.
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperr.Body{
				Error:   CodeRateLimited,
				Message: "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
