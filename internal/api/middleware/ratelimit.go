// Package middleware holds gin middleware shared by the HTTP routes.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"roomrelay/backend/internal/localization"
	"roomrelay/backend/internal/log"
)

type window struct {
	start time.Time
	count int
}

// IPRateLimiter is a per-client-IP fixed-window counter. Client IPs come from
// gin, which honours the engine's trusted proxy settings.
type IPRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	state     map[string]*window
	lastSweep time.Time
}

// NewIPRateLimiter allows maxReq requests per IP in each window. A
// non-positive maxReq disables limiting.
func NewIPRateLimiter(maxReq int, win time.Duration) *IPRateLimiter {
	if win <= 0 {
		win = time.Minute
	}
	return &IPRateLimiter{
		limit:  maxReq,
		window: win,
		now:    time.Now,
		state:  make(map[string]*window),
	}
}

// allow counts one request from ip. It returns the requests left in the
// current window and, when refused, how long until the window resets.
func (l *IPRateLimiter) allow(ip string) (remaining int, retryAfter time.Duration, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		for k, w := range l.state {
			if now.Sub(w.start) >= l.window {
				delete(l.state, k)
			}
		}
		l.lastSweep = now
	}

	w, exists := l.state[ip]
	if !exists || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.state[ip] = w
	}
	w.count++

	if w.count > l.limit {
		return 0, w.start.Add(l.window).Sub(now), false
	}
	return l.limit - w.count, 0, true
}

// Middleware rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers.
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	loc := localization.Default()
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}

		ip := c.ClientIP()
		remaining, retryAfter, ok := l.allow(ip)
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			log.Ctx(c.Request.Context()).Warn().Str(log.FieldClientIP, ip).Msg("rate limit exceeded")
			lang := loc.Match(c.GetHeader("Accept-Language"))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   loc.GetString(lang, "too many requests"),
			})
			return
		}
		c.Next()
	}
}
