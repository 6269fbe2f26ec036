// Package ratelimit is the server-side per-client-IP token bucket guarding
// the unlock-challenge endpoint, independent of the beacon-side bounded
// attempt window (pkg/beacon) that guards the BLE handshake itself.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"navign/internal/apperr"
	"navign/internal/httpserver"
)

// Limiter hands out a token-bucket rate.Limiter per client IP, resetting
// the whole visitor map on a fixed cadence so it never grows unbounded.
type Limiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
}

// New builds a Limiter from a requests-per-second and burst budget.
func New(requestsPerSecond, burst int) *Limiter {
	rl := &Limiter{
		visitors: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		cleanup:  time.Minute,
	}
	go rl.resetVisitors()
	return rl
}

func (rl *Limiter) visitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.visitors[ip]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.visitors[ip] = limiter
	}
	return limiter
}

func (rl *Limiter) resetVisitors() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		rl.visitors = make(map[string]*rate.Limiter)
		rl.mu.Unlock()
	}
}

// Middleware enforces the per-IP token bucket, rendering a 429 via the
// apperr capacity-error mapping when a client exceeds its budget.
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.visitor(c.ClientIP())
		if !limiter.Allow() {
			err := apperr.New(apperr.TitleCapacityError, http.StatusTooManyRequests, nil)
			httpserver.Content(c, http.StatusTooManyRequests, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}
