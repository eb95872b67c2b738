package middleware

import (
	"log/slog"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"maxyourpoints/internal/api/response"
	"maxyourpoints/internal/pkg/apperr"
	"maxyourpoints/internal/pkg/metrics"
	"maxyourpoints/internal/pkg/ratelimit"
)

// RateLimit 按 scope+客户端 IP 限流。限流器出错时放行。
func RateLimit(limiter ratelimit.Limiter, scope string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		d, err := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("scope", scope), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !d.Allowed {
			metrics.LoginAttemptsTotal.WithLabelValues("limited").Inc()
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			response.Error(c, nil, apperr.TooManyRequests("Too many attempts, please try again later"), false)
			return
		}
		c.Next()
	}
}
