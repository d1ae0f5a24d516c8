package middleware

import (
	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// RequireRole ensures that the authenticated user's role satisfies required.
// Must run after RequireAuth.
func RequireRole(required user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			response.Abort(c, apperror.KindUnauthenticated, "Authentication required")
			return
		}

		if !u.Role.Satisfies(required) {
			response.Abort(c, apperror.KindForbidden, "Access denied: insufficient permissions")
			return
		}

		c.Next()
	}
}

// AdminOnly middleware requires admin role
func AdminOnly() gin.HandlerFunc {
	return RequireRole(user.RoleAdmin)
}

// TrainerOnly lets trainers and admins through.
func TrainerOnly() gin.HandlerFunc {
	return RequireRole(user.RoleTrainer)
}
