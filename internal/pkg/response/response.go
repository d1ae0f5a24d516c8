package response

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"fitstudio/internal/apperror"
	"fitstudio/internal/pkg/validator"

	"github.com/gin-gonic/gin"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// FromError renders err as the error envelope. Only the kind and the safe
// message are written; the cause is attached to c.Errors for the request logger.
func FromError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()

	var ae *apperror.Error
	if !errors.As(err, &ae) {
		ae = apperror.Internal(err)
	}

	status := apperror.HTTPStatus(ae.Kind)
	message := ae.Message
	if status == http.StatusInternalServerError {
		message = "An internal error occurred"
	}

	details := map[string]any{}
	for k, v := range ae.Details {
		details[k] = v
	}
	if ae.RetryAfter > 0 {
		secs := int64(math.Ceil(ae.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		details["retryAfterSeconds"] = secs
	}

	if len(details) > 0 {
		ErrorWithDetails(c, status, ae.Kind.Code(), message, details)
		return
	}
	Error(c, status, ae.Kind.Code(), message)
}

// Abort renders a kind directly, for middleware that has no service error.
func Abort(c *gin.Context, kind apperror.Kind, message string) {
	FromError(c, apperror.New(kind, message))
}

// BindError renders a failed ShouldBindJSON. Field validation failures list
// the offending fields; anything else is a malformed body.
func BindError(c *gin.Context, err error) {
	if fields := validator.Fields(err); fields != nil {
		FromError(c, apperror.Validation("Invalid request body").WithDetails(map[string]any{"fields": fields}))
		return
	}
	FromError(c, apperror.Wrap(apperror.KindValidationFailed, "Invalid request body", err))
}
