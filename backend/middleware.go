package main

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	ips      map[string]*rate.Limiter
	mu       sync.Mutex
	requests int
	duration time.Duration
}

// NewIPRateLimiter allows r requests per d for each IP.
func NewIPRateLimiter(r int, d time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		ips:      make(map[string]*rate.Limiter),
		requests: r,
		duration: d,
	}
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	if limiter, ok := i.ips[ip]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(float64(i.requests)/i.duration.Seconds()), i.requests)
	i.ips[ip] = limiter

	// Forget idle IPs after one window so the map does not grow without bound.
	time.AfterFunc(i.duration, func() {
		i.mu.Lock()
		delete(i.ips, ip)
		i.mu.Unlock()
	})
	return limiter
}

// RateLimitMiddleware answers 429 once an IP exhausts its bucket. Batching
// clients treat 429 as a signal to back off and retry.
func (i *IPRateLimiter) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !i.getLimiter(c.ClientIP()).Allow() {
			slog.Warn("rate limit hit", "ip", c.ClientIP(), "path", c.FullPath())
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "too many requests, slow down"})
			return
		}
		c.Next()
	}
}
