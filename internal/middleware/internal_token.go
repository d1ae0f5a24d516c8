package middleware

import (
	"crypto/subtle"

	"fitstudio/internal/apperror"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InternalToken protects operator endpoints such as /metrics with a static
// bearer. An empty expected token leaves the endpoint open.
func InternalToken(expected string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		raw, ok := BearerFromHeader(c.GetHeader("Authorization"))
		if !ok {
			log.Warn("internal endpoint without bearer", zap.String("path", c.Request.URL.Path), zap.String("client_ip", c.ClientIP()))
			response.Abort(c, apperror.KindUnauthenticated, "Authorization header must be 'Bearer <token>'")
			return
		}
		if subtle.ConstantTimeCompare([]byte(raw), []byte(expected)) != 1 {
			log.Warn("internal endpoint token mismatch", zap.String("path", c.Request.URL.Path), zap.String("client_ip", c.ClientIP()))
			response.Abort(c, apperror.KindForbidden, "Invalid internal token")
			return
		}
		c.Next()
	}
}
