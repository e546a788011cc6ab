package ratelimit

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/streamwatch/tender-risk/internal/errors"
)

type checkFunc func(ctx context.Context, ip string) (*Result, error)

// IPRateLimitMiddleware applies the per-IP budget to single-record
// endpoints.
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return rl.middleware("ip", rl.AllowIP)
}

// BatchRateLimitMiddleware applies the smaller per-IP budget to batch
// uploads.
func (rl *RateLimiter) BatchRateLimitMiddleware() gin.HandlerFunc {
	return rl.middleware("batch", rl.AllowBatch)
}

func (rl *RateLimiter) middleware(kind string, check checkFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := check(c.Request.Context(), ip)
		if err != nil {
			// Don't block requests on limiter failure
			slog.Error("Rate limit check failed", "kind", kind, "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
			}

			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			appErr := apperrors.NewRateLimitError(strconv.Itoa(retryAfter) + "s")
			appErr.RequestID = c.GetString("request_id")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}

		c.Next()
	}
}
