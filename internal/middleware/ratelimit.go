package middleware

import (
	"fitstudio/internal/apperror"
	"fitstudio/internal/pkg/response"
	"fitstudio/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimitByIP spends one token of endpoint's bucket per request, keyed by
// client address. Handlers that also key by identity do so themselves.
func RateLimitByIP(guard *ratelimit.Guard, endpoint ratelimit.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, _ := guard.Allow(c.Request.Context(), endpoint, ratelimit.Key("ip", c.ClientIP()))
		if !d.Allowed {
			response.FromError(c, apperror.New(apperror.KindRateLimited, "Too many requests, try again later").
				WithRetryAfter(d.RetryAfter))
			return
		}
		c.Next()
	}
}
