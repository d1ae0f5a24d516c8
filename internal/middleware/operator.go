package middleware

import (
	"errors"
	"strings"

	"fitstudio/internal/apperror"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxInspectDepth is how deep bodies are walked. Anything nested deeper is
// rejected rather than passed on unchecked.
const MaxInspectDepth = 10

var (
	errOperatorKey = errors.New("operator key")
	errTooDeep     = errors.New("nesting too deep")
)

// OperatorGuard rejects any body or query key that starts with '$', so no
// document-store operator can be smuggled in through client input.
func OperatorGuard(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		for key := range c.Request.URL.Query() {
			if queryKeyHasOperator(key) {
				log.Warn("operator key in query rejected", zap.String("path", c.Request.URL.Path), zap.String("key", key))
				response.Abort(c, apperror.KindInvalidRequest, "Request contains a disallowed operator key")
				return
			}
		}

		jb, err := loadJSONBody(c)
		if err != nil {
			response.FromError(c, apperror.Wrap(apperror.KindInvalidRequest, "Request body could not be read", err))
			return
		}
		if jb.value != nil {
			if err := inspect(jb.value, 1); err != nil {
				log.Warn("request body rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
				msg := "Request contains a disallowed operator key"
				if errors.Is(err, errTooDeep) {
					msg = "Request body is nested too deeply"
				}
				response.Abort(c, apperror.KindInvalidRequest, msg)
				return
			}
		}

		c.Next()
	}
}

func inspect(v interface{}, depth int) error {
	switch t := v.(type) {
	case map[string]interface{}:
		if depth > MaxInspectDepth {
			return errTooDeep
		}
		for k, child := range t {
			if strings.HasPrefix(k, "$") {
				return errOperatorKey
			}
			if err := inspect(child, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		if depth > MaxInspectDepth {
			return errTooDeep
		}
		for _, child := range t {
			if err := inspect(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// queryKeyHasOperator also looks inside bracket segments, e.g. "email[$ne]".
func queryKeyHasOperator(key string) bool {
	for _, seg := range strings.FieldsFunc(key, func(r rune) bool { return r == '[' || r == ']' || r == '.' }) {
		if strings.HasPrefix(strings.TrimSpace(seg), "$") {
			return true
		}
	}
	return false
}
