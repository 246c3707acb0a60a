package middleware

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cyodesign.app/atelier/internal/service"
)

// RateLimit rejects clients that exceed the limiter's window with 429.
// Limiter outages let requests through.
func RateLimit(limiter service.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		retry, err := limiter.Allow(ctx, c.ClientIP())
		switch {
		case errors.Is(err, service.ErrRateLimited):
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		case err != nil:
			slog.WarnContext(ctx, "rate limiter unavailable", "error", err)
		}
		c.Next()
	}
}
