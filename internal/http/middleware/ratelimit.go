// README: Per-caller token bucket rate limiting (process-local).
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	visitorTTL     = 10 * time.Minute
	cleanupEveryN  = 5000
	retryAfterSecs = "1"
)

type KeyFunc func(*gin.Context) string

// KeyByCallerOrIP keys buckets by the authenticated uid, falling back to the
// client IP before Auth has run.
func KeyByCallerOrIP(c *gin.Context) string {
	if uid := CallerUID(c); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  int
}

// NewRateLimiter returns a limiter allowing rps per key with the given burst.
// rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByCallerOrIP
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= cleanupEveryN {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= visitorTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rps <= 0 || rl.limiter(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", retryAfterSecs)
		abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}
