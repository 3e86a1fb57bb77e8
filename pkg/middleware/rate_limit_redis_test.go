package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func redisLimitedRouter(t *testing.T, sub string, rps float64, burst int, window time.Duration) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("claims", map[string]interface{}{"sub": sub})
		c.Next()
	})
	r.Use(RedisRateLimitMiddleware(client, rps, burst, window))
	r.GET("/ping", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	return r, m
}

func TestRedisRateLimitMiddleware_FixedWindow(t *testing.T) {
	// 0.1 rps over a 10s window allows exactly one request per window;
	// the wide window keeps the test clear of bucket boundaries
	r, m := redisLimitedRouter(t, "redis-window", 0.1, 0, 10*time.Second)

	require.Equal(t, http.StatusOK, hit(r))
	require.Equal(t, http.StatusTooManyRequests, hit(r))

	// expiring the window counter opens the budget again
	m.FastForward(11 * time.Second)
	require.Equal(t, http.StatusOK, hit(r))
}

func TestRedisRateLimitMiddleware_BurstAddsHeadroom(t *testing.T) {
	r, _ := redisLimitedRouter(t, "redis-burst", 0.1, 2, 10*time.Second)

	// allowed = floor(0.1*10) + 2 = 3
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(r))
	}
	require.Equal(t, http.StatusTooManyRequests, hit(r))
}

func TestRedisRateLimitMiddleware_NilClientFallsBack(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("claims", map[string]interface{}{"sub": "redis-fallback"})
		c.Next()
	})
	r.Use(RedisRateLimitMiddleware(nil, 5, 1, time.Second))
	r.GET("/ping", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	require.Equal(t, http.StatusOK, hit(r))
	require.Equal(t, http.StatusTooManyRequests, hit(r))
}
