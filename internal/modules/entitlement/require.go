package entitlement

import (
	"time"

	"fitstudio/internal/apperror"
	"fitstudio/internal/middleware"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Require admits the request only when the authenticated caller has access
// to target as of now(). It runs after RequireAuth. For program targets an
// empty slug means the ":slug" route parameter.
func Require(target Target, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := middleware.CurrentUser(c)
		if !ok {
			response.FromError(c, apperror.Unauthenticated())
			return
		}
		t := target
		if t.Kind == ProgramContent && t.Slug == "" {
			t.Slug = c.Param("slug")
		}
		if !HasAccess(u, t, now()) {
			response.FromError(c, apperror.New(apperror.KindForbidden, "An active entitlement is required"))
			return
		}
		c.Next()
	}
}
