package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/quillvault/quillvault/pkg/metrics"
)

// limiterKey picks the rate-limit identity for a request: the
// authenticated subject when present, otherwise the client IP. Per-subject
// keying keeps users behind a shared NAT from exhausting each other's
// budget.
func limiterKey(c *gin.Context) string {
	if v, ok := c.Get("claims"); ok {
		if cm, ok := v.(map[string]interface{}); ok {
			if sub, ok := cm["sub"].(string); ok && sub != "" {
				return "sub:" + sub
			}
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

var limiters sync.Map // key -> *rate.Limiter

func limiterFor(key string, rps float64, burst int) *rate.Limiter {
	if v, ok := limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	actual, _ := limiters.LoadOrStore(key, lim)
	return actual.(*rate.Limiter)
}

// RateLimitMiddleware enforces a per-key token bucket held in process
// memory. Good enough for a single instance; multi-instance deployments
// should use RedisRateLimitMiddleware instead.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiterFor(limiterKey(c), rps, burst).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
