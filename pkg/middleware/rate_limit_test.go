package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// limitedRouter injects the given subject as claims so each test gets its
// own limiter bucket, independent of the shared client IP httptest uses.
func limitedRouter(sub string, rps float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("claims", map[string]interface{}{"sub": sub})
		c.Next()
	})
	r.Use(RateLimitMiddleware(rps, burst))
	r.GET("/ping", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	return r
}

func hit(r *gin.Engine) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	return w.Code
}

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	r := limitedRouter("rl-under", 10, 3)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(r))
	}
}

func TestRateLimitMiddleware_BlocksWhenBurstExhausted(t *testing.T) {
	r := limitedRouter("rl-burst", 5, 1)

	require.Equal(t, http.StatusOK, hit(r))
	require.Equal(t, http.StatusTooManyRequests, hit(r))

	// 5 rps refills a token in 200ms
	time.Sleep(400 * time.Millisecond)
	require.Equal(t, http.StatusOK, hit(r))
}

func TestRateLimitMiddleware_BucketsPerSubject(t *testing.T) {
	a := limitedRouter("rl-user-a", 5, 1)
	b := limitedRouter("rl-user-b", 5, 1)

	require.Equal(t, http.StatusOK, hit(a))
	require.Equal(t, http.StatusTooManyRequests, hit(a))

	// a different subject has its own untouched bucket
	require.Equal(t, http.StatusOK, hit(b))
}
