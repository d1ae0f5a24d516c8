package middleware

import (
	"regexp"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const maxSlugLength = 64

// ValidateIDParam rejects requests whose named route params are not store ids.
func ValidateIDParam(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			if !user.ValidID(c.Param(name)) {
				response.Abort(c, apperror.KindInvalidID, "Invalid "+name)
				return
			}
		}
		c.Next()
	}
}

// ValidSlug reports whether s is a lowercase, dash-separated catalog key.
func ValidSlug(s string) bool {
	return len(s) <= maxSlugLength && slugPattern.MatchString(s)
}

// ValidateSlugParam does the same for catalog slugs.
func ValidateSlugParam(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			if !ValidSlug(c.Param(name)) {
				response.Abort(c, apperror.KindInvalidID, "Invalid "+name)
				return
			}
		}
		c.Next()
	}
}
