package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"hyperagent/internal/metrics"
)

// rateLimit enforces a per-client request budget. Rejected requests
// get a 429 with Retry-After. perMinute <= 0 disables the limiter.
func rateLimit(perMinute int, m *metrics.Metrics) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(*gin.Context) {}
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
			limiters[key] = l
		}
		return l
	}

	return func(c *gin.Context) {
		limiter := limiterFor(clientID(c))
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		if delay > 0 {
			reservation.Cancel()
			if m != nil {
				m.RateLimitRejects.Inc()
			}
			c.Header("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// requestMetrics counts requests by route template and status class.
func requestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(*gin.Context) {}
	}
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"
		m.HTTPRequests.WithLabelValues(route, status).Inc()
	}
}
