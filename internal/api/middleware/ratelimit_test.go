package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimitedRouter(l *IPRateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/thing", l.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return r
}

func post(r *gin.Engine, remote, lang string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/thing", nil)
	req.RemoteAddr = remote
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIPRateLimiter_FixedWindow(t *testing.T) {
	// Arrange
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewIPRateLimiter(2, time.Minute)
	l.now = clock.Now
	r := newLimitedRouter(l)

	// Act + Assert
	w := post(r, "203.0.113.5:1000", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, post(r, "203.0.113.5:1001", "").Code)

	clock.Advance(20 * time.Second)
	w = post(r, "203.0.113.5:1002", "zh-CN")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "40", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "请求过于频繁，请稍后再试", body["error"])

	// Other clients have their own window.
	assert.Equal(t, http.StatusOK, post(r, "198.51.100.1:1000", "").Code)

	// The window resets.
	clock.Advance(41 * time.Second)
	assert.Equal(t, http.StatusOK, post(r, "203.0.113.5:1003", "").Code)
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	r := newLimitedRouter(NewIPRateLimiter(0, time.Minute))

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, post(r, "203.0.113.5:1000", "").Code)
	}
}

func TestIPRateLimiter_SweepsExpiredWindows(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewIPRateLimiter(5, time.Minute)
	l.now = clock.Now

	l.allow("a")
	l.allow("b")
	clock.Advance(2 * time.Minute)
	l.allow("c")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.state, 1)
	assert.Contains(t, l.state, "c")
}
