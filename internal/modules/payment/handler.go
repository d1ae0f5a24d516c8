package payment

import (
	"errors"
	"io"
	"net/http"

	"fitstudio/internal/apperror"
	"fitstudio/internal/middleware"
	"fitstudio/internal/paymentprovider"
	"fitstudio/internal/pkg/response"
	"fitstudio/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// MaxWebhookBytes caps the raw body read for signature checking.
const MaxWebhookBytes = 1 << 20

type Handler struct {
	consumer *Consumer
	guard    *ratelimit.Guard
}

func NewHandler(consumer *Consumer, guard *ratelimit.Guard) *Handler {
	return &Handler{consumer: consumer, guard: guard}
}

// RegisterRoutes mounts the webhook. It must sit outside the body-rewriting
// guards: the signature covers the exact bytes sent.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/v1/webhooks/payment", middleware.RateLimitByIP(h.guard, ratelimit.PaymentWebhook), h.Webhook)
}

// Webhook godoc
// @Summary      Payment provider webhook
// @Description  Verifies the X-Payment-Signature header over the raw body, then applies the event idempotently
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Param        X-Payment-Signature header string true "t=<unix>,v1=<hex hmac>"
// @Success      200 {object} WebhookResponse
// @Failure      400 {object} map[string]interface{} "invalid_request: bad signature or malformed event"
// @Failure      429 {object} map[string]interface{} "rate_limited"
// @Failure      500 {object} map[string]interface{} "not committed, provider retries"
// @Router       /webhooks/payment [post]
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Abort(c, apperror.KindInvalidRequest, "Request body too large")
			return
		}
		response.Abort(c, apperror.KindInvalidRequest, "Unreadable request body")
		return
	}

	resp, err := h.consumer.Handle(c.Request.Context(), body, c.GetHeader(paymentprovider.SignatureHeader))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}
