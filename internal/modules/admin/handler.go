package admin

import (
	"net/http"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/middleware"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the admin endpoints. The group must already require
// the admin role.
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	users := admin.Group("/users/:id", middleware.ValidateIDParam("id"))
	{
		users.GET("", h.GetUser)
		users.PUT("/role/:role", h.SetRole)
		users.POST("/revoke-sessions", h.RevokeSessions)
	}

	admin.GET("/logs", h.GetLogs)
}

// GetUser returns one account.
// @Summary		Get user
// @Description	Returns the profile and account state of a user. Admin only.
// @Tags		Admin
// @Security	BearerAuth
// @Param		id	path	string	true	"user id"
// @Success		200	{object}	UserView
// @Failure		400	{object}	map[string]interface{}	"invalid_id"
// @Failure		403	{object}	map[string]interface{}	"forbidden"
// @Failure		404	{object}	map[string]interface{}	"not_found"
// @Router		/admin/users/{id} [GET]
func (h *Handler) GetUser(c *gin.Context) {
	v, err := h.service.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, v)
}

// SetRole changes a user's role and revokes their sessions.
// @Summary		Set user role
// @Tags		Admin
// @Security	BearerAuth
// @Param		id		path	string	true	"user id"
// @Param		role	path	string	true	"user | trainer | admin"
// @Success		200	{object}	UserView
// @Failure		400	{object}	map[string]interface{}	"validation_failed"
// @Failure		404	{object}	map[string]interface{}	"not_found"
// @Router		/admin/users/{id}/role/{role} [PUT]
func (h *Handler) SetRole(c *gin.Context) {
	actor, _ := middleware.CurrentUser(c)
	v, err := h.service.SetRole(c.Request.Context(), actor, c.Param("id"), user.Role(c.Param("role")))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, v)
}

// RevokeSessions logs a user out everywhere.
// @Summary		Revoke user sessions
// @Tags		Admin
// @Security	BearerAuth
// @Param		id	path	string	true	"user id"
// @Success		200	{object}	map[string]interface{}	"sessions revoked"
// @Failure		404	{object}	map[string]interface{}	"not_found"
// @Router		/admin/users/{id}/revoke-sessions [POST]
func (h *Handler) RevokeSessions(c *gin.Context) {
	actor, _ := middleware.CurrentUser(c)
	if err := h.service.RevokeSessions(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Sessions revoked"})
}

// GetLogs returns recent server log entries from the in-process buffer.
// @Summary		Recent logs
// @Tags		Admin
// @Security	BearerAuth
// @Param		level		query	string	false	"minimum level: debug, info, warn, error"
// @Param		contains	query	string	false	"substring of the message"
// @Param		since		query	string	false	"RFC 3339 timestamp"
// @Param		limit		query	int		false	"max entries (default 200)"
// @Success		200	{object}	LogsResponse
// @Router		/admin/logs [GET]
func (h *Handler) GetLogs(c *gin.Context) {
	var q LogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BindError(c, err)
		return
	}
	resp, err := h.service.Logs(q)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}
