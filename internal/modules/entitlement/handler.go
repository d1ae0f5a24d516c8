package entitlement

import (
	"net/http"
	"regexp"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/middleware"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

var extIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	subs := protected.Group("/subscriptions")
	{
		subs.POST("/create", middleware.AllowFields(middleware.Strip, "plan", "paymentMethodId"), h.CreateSubscription)
		subs.GET("/user/current", h.Current)
		subs.DELETE("/:extId/cancel", validateExtID, middleware.AllowFields(middleware.Strip, "atPeriodEnd"), h.Cancel)
		subs.POST("/:extId/resume", validateExtID, h.Resume)
	}

	programs := protected.Group("/programs")
	{
		programs.GET("/:slug/access", middleware.ValidateSlugParam("slug"), h.ProgramAccess)
		programs.POST("/:slug/purchase", middleware.ValidateSlugParam("slug"), h.PurchaseProgram)
	}
}

func validateExtID(c *gin.Context) {
	if !extIDPattern.MatchString(c.Param("extId")) {
		response.Abort(c, apperror.KindInvalidID, "Invalid subscription id")
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) (*user.User, bool) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.FromError(c, apperror.Unauthenticated())
		return nil, false
	}
	return u, true
}

// CreateSubscription starts a hosted checkout for a plan.
// @Summary		Create subscription checkout
// @Tags		Subscriptions
// @Security	BearerAuth
// @Param		request	body	CreateSubscriptionRequest	true	"plan, paymentMethodId"
// @Success		200	{object}	CheckoutResponse
// @Failure		400	{object}	map[string]interface{}	"validation_failed"
// @Failure		502	{object}	map[string]interface{}	"upstream_unavailable"
// @Router		/subscriptions/create [POST]
func (h *Handler) CreateSubscription(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	resp, err := h.service.CreateSubscriptionCheckout(c.Request.Context(), u, req.Plan, req.PaymentMethodID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// Current returns the caller's subscription record.
// @Summary		Current subscription
// @Tags		Subscriptions
// @Security	BearerAuth
// @Success		200	{object}	SubscriptionResponse
// @Router		/subscriptions/user/current [GET]
func (h *Handler) Current(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, h.service.CurrentSubscription(u))
}

// Cancel stops the caller's subscription. atPeriodEnd defaults to true.
// @Summary		Cancel subscription
// @Tags		Subscriptions
// @Security	BearerAuth
// @Param		extId	path	string	true	"provider subscription id"
// @Param		request	body	CancelRequest	false	"atPeriodEnd"
// @Success		200	{object}	map[string]interface{}	"updated subscription"
// @Failure		403	{object}	map[string]interface{}	"forbidden: not the owner"
// @Router		/subscriptions/{extId}/cancel [DELETE]
func (h *Handler) Cancel(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BindError(c, err)
			return
		}
	}
	atPeriodEnd := req.AtPeriodEnd == nil || *req.AtPeriodEnd

	sub, err := h.service.Cancel(c.Request.Context(), u, c.Param("extId"), atPeriodEnd)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"subscription": sub})
}

// Resume undoes a pending cancellation.
// @Summary		Resume subscription
// @Tags		Subscriptions
// @Security	BearerAuth
// @Param		extId	path	string	true	"provider subscription id"
// @Success		200	{object}	map[string]interface{}	"updated subscription"
// @Failure		400	{object}	map[string]interface{}	"validation_failed: period ended or canceled"
// @Failure		403	{object}	map[string]interface{}	"forbidden: not the owner"
// @Router		/subscriptions/{extId}/resume [POST]
func (h *Handler) Resume(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	sub, err := h.service.Resume(c.Request.Context(), u, c.Param("extId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"subscription": sub})
}

// ProgramAccess reports whether the caller may open a program.
// @Summary		Program access
// @Tags		Programs
// @Security	BearerAuth
// @Param		slug	path	string	true	"program slug"
// @Success		200	{object}	AccessResponse
// @Failure		400	{object}	map[string]interface{}	"invalid_id"
// @Router		/programs/{slug}/access [GET]
func (h *Handler) ProgramAccess(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, h.service.ProgramAccess(u, c.Param("slug")))
}

// PurchaseProgram starts a one-off checkout for a program.
// @Summary		Purchase program
// @Tags		Programs
// @Security	BearerAuth
// @Param		slug	path	string	true	"program slug"
// @Success		200	{object}	CheckoutResponse
// @Failure		404	{object}	map[string]interface{}	"not_found"
// @Router		/programs/{slug}/purchase [POST]
func (h *Handler) PurchaseProgram(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	resp, err := h.service.CreateProgramCheckout(c.Request.Context(), u, c.Param("slug"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}
