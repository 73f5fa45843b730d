package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "agriplan/internal/errors"
	"agriplan/internal/logger"
)

// Limiter counts hits against a key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit limits requests per client IP and route. A nil limiter or a
// limiter error lets the request through.
func RateLimit(limiter Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		key := c.FullPath() + ":" + c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Get().Warnw("rate limiter unavailable", "error", err, "key", key)
			c.Next()
			return
		}
		if !allowed {
			abortWithError(c, apperrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}
