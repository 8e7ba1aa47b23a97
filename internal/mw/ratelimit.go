package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// CallerKey counts requests per X-User-ID, falling back to the client IP.
func CallerKey(c *gin.Context) string {
	if id := c.GetHeader(UserIDHeader); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}

// Limiters hands out one token bucket per key. Buckets of idle keys expire.
type Limiters struct {
	mu      sync.Mutex
	buckets *cache.Cache
	idle    time.Duration
	r       rate.Limit
	b       int
}

// NewLimiters creates a limiter set allowing r events per second with burst b.
func NewLimiters(r rate.Limit, b int, idle time.Duration) *Limiters {
	return &Limiters{
		buckets: cache.New(idle, 2*idle),
		idle:    idle,
		r:       r,
		b:       b,
	}
}

// Get returns the limiter of key, creating it on first use.
func (l *Limiters) Get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.buckets.Set(key, lim, l.idle)
		return lim
	}
	lim := rate.NewLimiter(l.r, l.b)
	l.buckets.Set(key, lim, l.idle)
	return lim
}

// RateLimiter rejects requests over the per-key budget with 429.
func RateLimiter(l *Limiters, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = CallerKey
	}
	return func(c *gin.Context) {
		if !l.Get(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
