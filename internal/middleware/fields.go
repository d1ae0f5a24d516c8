package middleware

import (
	"sort"
	"strings"

	"fitstudio/internal/apperror"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// forbiddenFields may never come from a client, on any route, at any depth.
// Matching ignores case, '_' and '-'.
var forbiddenFields = newFieldSet(
	"role",
	"isEmailVerified",
	"emailVerificationOtp",
	"emailVerificationExpiresAt",
	"passwordHash",
	"passwordResetTokenHash",
	"passwordResetExpiresAt",
	"tokenVersion",
	"failedLoginAttempts",
	"lockoutUntil",
	"paymentCustomerId",
	"activeSubscription",
	"purchasedProgramSlugs",
	"id",
	"createdAt",
	"updatedAt",
)

type fieldSet map[string]struct{}

func newFieldSet(names ...string) fieldSet {
	s := make(fieldSet, len(names))
	for _, n := range names {
		s[foldField(n)] = struct{}{}
	}
	return s
}

func (s fieldSet) has(name string) bool {
	_, ok := s[foldField(name)]
	return ok
}

func foldField(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return -1
		}
		return r
	}, strings.ToLower(name))
}

// StripForbiddenFields removes blacklisted keys from the query of every
// request and from the body of mutating requests.
func StripForbiddenFields(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		var removed []string

		q := c.Request.URL.Query()
		for key := range q {
			base := key
			if i := strings.IndexByte(base, '['); i >= 0 {
				base = base[:i]
			}
			if forbiddenFields.has(base) {
				q.Del(key)
				removed = append(removed, key)
			}
		}
		if len(removed) > 0 {
			c.Request.URL.RawQuery = q.Encode()
		}

		if isMutating(c.Request.Method) {
			jb, err := loadJSONBody(c)
			if err != nil {
				response.FromError(c, apperror.Wrap(apperror.KindInvalidRequest, "Request body could not be read", err))
				return
			}
			if jb.value != nil {
				var fromBody []string
				cleaned := stripKeys(jb.value, "", 1, &fromBody)
				if len(fromBody) > 0 {
					if err := jb.replace(c, cleaned); err != nil {
						response.FromError(c, apperror.Internal(err))
						return
					}
					removed = append(removed, fromBody...)
				}
			}
		}

		if len(removed) > 0 {
			sort.Strings(removed)
			log.Warn("stripped privileged fields from request",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Strings("fields", removed),
			)
		}
		c.Next()
	}
}

func stripKeys(v interface{}, path string, depth int, removed *[]string) interface{} {
	if depth > MaxInspectDepth {
		return v
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if forbiddenFields.has(k) {
				delete(t, k)
				*removed = append(*removed, p)
				continue
			}
			t[k] = stripKeys(child, p, depth+1, removed)
		}
	case []interface{}:
		for i, child := range t {
			t[i] = stripKeys(child, path, depth+1, removed)
		}
	}
	return v
}

// FieldMode decides what AllowFields does with keys outside the whitelist.
type FieldMode int

const (
	// Strip drops unknown keys silently.
	Strip FieldMode = iota
	// Strict rejects the request with disallowed_field.
	Strict
)

// AllowFields enforces a positive whitelist on the top-level body object.
func AllowFields(mode FieldMode, allowed ...string) gin.HandlerFunc {
	set := newFieldSet(allowed...)
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}
		jb, err := loadJSONBody(c)
		if err != nil {
			response.FromError(c, apperror.Wrap(apperror.KindInvalidRequest, "Request body could not be read", err))
			return
		}
		obj, ok := jb.value.(map[string]interface{})
		if !ok {
			if jb.value != nil && mode == Strict {
				response.Abort(c, apperror.KindInvalidRequest, "Request body must be a JSON object")
				return
			}
			c.Next()
			return
		}

		var extra []string
		for k := range obj {
			if !set.has(k) {
				extra = append(extra, k)
			}
		}
		if len(extra) == 0 {
			c.Next()
			return
		}
		sort.Strings(extra)

		if mode == Strict {
			response.FromError(c, apperror.New(apperror.KindDisallowedField, "Request contains fields that may not be set").
				WithDetails(map[string]any{"fields": extra}))
			return
		}
		for _, k := range extra {
			delete(obj, k)
		}
		if err := jb.replace(c, obj); err != nil {
			response.FromError(c, apperror.Internal(err))
			return
		}
		c.Next()
	}
}
