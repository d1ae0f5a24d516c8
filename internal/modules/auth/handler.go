package auth

import (
	"net/http"

	"fitstudio/internal/apperror"
	"fitstudio/internal/middleware"
	"fitstudio/internal/pkg/response"
	"fitstudio/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// Handler manages all HTTP interactions for authentication
type Handler struct {
	service *Service
	guard   *ratelimit.Guard
}

// NewHandler creates a new auth handler with injected service. guard backs the
// per-IP limits; per-email limits live in the service.
func NewHandler(service *Service, guard *ratelimit.Guard) *Handler {
	return &Handler{service: service, guard: guard}
}

func (h *Handler) RegisterPublicRoutes(v1 *gin.RouterGroup) {
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/signup",
			middleware.RateLimitByIP(h.guard, ratelimit.Signup),
			middleware.AllowFields(middleware.Strip, "email", "password", "firstName", "lastName", "phone"),
			h.Signup)
		authGroup.POST("/verify-email", middleware.AllowFields(middleware.Strip, "email", "otp"), h.VerifyEmail)
		authGroup.POST("/login", middleware.AllowFields(middleware.Strip, "email", "password"), h.Login)
		authGroup.POST("/resend-verification", middleware.AllowFields(middleware.Strip, "email"), h.ResendVerification)
		authGroup.POST("/forgot-password", middleware.AllowFields(middleware.Strip, "email"), h.ForgotPassword)
		authGroup.POST("/reset-password",
			middleware.RateLimitByIP(h.guard, ratelimit.ResetPassword),
			middleware.AllowFields(middleware.Strip, "token", "newPassword"),
			h.ResetPassword)
	}
}

func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	authGroup := protected.Group("/auth")
	{
		authGroup.POST("/logout", middleware.AllowFields(middleware.Strip, "everywhere"), h.Logout)
		authGroup.GET("/me", h.Me)
		authGroup.PUT("/profile", middleware.AllowFields(middleware.Strict, "firstName", "lastName", "phone"), h.UpdateProfile)
		authGroup.PUT("/password", middleware.AllowFields(middleware.Strip, "currentPassword", "newPassword"), h.ChangePassword)
	}
}

// Signup registers a new account.
// @Summary		Sign up
// @Description	Creates an unverified account and emails a 6-digit verification code. No session token is issued until the email is verified.
// @Tags		Auth
// @Param		request	body	SignupRequest	true	"email, password, firstName, lastName, phone"
// @Success		201	{object}	map[string]interface{}	"Account created, verification code sent"
// @Failure		400	{object}	map[string]interface{}	"validation_failed"
// @Failure		409	{object}	map[string]interface{}	"email_taken"
// @Failure		429	{object}	map[string]interface{}	"rate_limited"
// @Failure		502	{object}	map[string]interface{}	"mail_delivery_failed: account exists, use resend"
// @Router		/auth/signup [POST]
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	u, err := h.service.Signup(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message": "Account created. Check your email for the verification code.",
		"user":    u.Public(),
	})
}

// VerifyEmail confirms the address and logs the user in.
// @Summary		Verify email
// @Tags		Auth
// @Param		request	body	VerifyEmailRequest	true	"email, otp"
// @Success		200	{object}	Session
// @Failure		400	{object}	map[string]interface{}	"otp_expired / otp_mismatch"
// @Failure		404	{object}	map[string]interface{}	"not_found"
// @Failure		429	{object}	map[string]interface{}	"rate_limited"
// @Router		/auth/verify-email [POST]
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	session, err := h.service.VerifyEmail(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// Login issues a session bearer.
// @Summary		Log in
// @Tags		Auth
// @Param		request	body	LoginRequest	true	"email, password"
// @Success		200	{object}	Session
// @Failure		400	{object}	map[string]interface{}	"invalid_credentials"
// @Failure		403	{object}	map[string]interface{}	"email_not_verified"
// @Failure		423	{object}	map[string]interface{}	"account_locked, with Retry-After"
// @Failure		429	{object}	map[string]interface{}	"rate_limited, with Retry-After"
// @Router		/auth/login [POST]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	session, err := h.service.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// ResendVerification mails a fresh code.
// @Summary		Resend verification code
// @Tags		Auth
// @Param		request	body	EmailRequest	true	"email"
// @Success		200	{object}	MessageResponse
// @Failure		429	{object}	map[string]interface{}	"rate_limited"
// @Router		/auth/resend-verification [POST]
func (h *Handler) ResendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := h.service.ResendVerification(c.Request.Context(), req.Email); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, MessageResponse{
		Message: "If the account exists and is not verified, a new code has been sent.",
	})
}

// ForgotPassword mails a reset link.
// @Summary		Forgot password
// @Description	The response is the same whether or not the address is registered.
// @Tags		Auth
// @Param		request	body	EmailRequest	true	"email"
// @Success		200	{object}	MessageResponse
// @Failure		429	{object}	map[string]interface{}	"rate_limited"
// @Router		/auth/forgot-password [POST]
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := h.service.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, MessageResponse{
		Message: "If an account with that email exists, a reset link has been sent.",
	})
}

// ResetPassword sets a new password from a reset link.
// @Summary		Reset password
// @Tags		Auth
// @Param		request	body	ResetPasswordRequest	true	"token, newPassword"
// @Success		200	{object}	MessageResponse
// @Failure		400	{object}	map[string]interface{}	"validation_failed / invalid_or_expired"
// @Failure		429	{object}	map[string]interface{}	"rate_limited"
// @Router		/auth/reset-password [POST]
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := h.service.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, MessageResponse{Message: "Password updated. Log in with the new password."})
}

// Logout ends the session; with everywhere=true every bearer of the user is revoked.
// @Summary		Log out
// @Tags		Auth
// @Security	BearerAuth
// @Param		request	body	LogoutRequest	false	"everywhere"
// @Success		200	{object}	MessageResponse
// @Failure		401	{object}	map[string]interface{}	"unauthenticated"
// @Router		/auth/logout [POST]
func (h *Handler) Logout(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.FromError(c, apperror.Unauthenticated())
		return
	}

	var req LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BindError(c, err)
			return
		}
	}
	if err := h.service.Logout(c.Request.Context(), u, req.Everywhere); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// Me returns the caller's profile.
// @Summary		Current user
// @Tags		Auth
// @Security	BearerAuth
// @Success		200	{object}	map[string]interface{}	"user projection"
// @Failure		401	{object}	map[string]interface{}	"unauthenticated"
// @Router		/auth/me [GET]
func (h *Handler) Me(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.FromError(c, apperror.Unauthenticated())
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": u.Public()})
}

// UpdateProfile edits firstName, lastName and phone. Any other field is rejected.
// @Summary		Update profile
// @Tags		Auth
// @Security	BearerAuth
// @Param		request	body	UpdateProfileRequest	true	"firstName, lastName, phone"
// @Success		200	{object}	map[string]interface{}	"updated user"
// @Failure		400	{object}	map[string]interface{}	"validation_failed / disallowed_field"
// @Failure		401	{object}	map[string]interface{}	"unauthenticated"
// @Router		/auth/profile [PUT]
func (h *Handler) UpdateProfile(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.FromError(c, apperror.Unauthenticated())
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	updated, err := h.service.UpdateProfile(c.Request.Context(), u.ID, req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": updated.Public()})
}

// ChangePassword replaces the password and returns a fresh session.
// @Summary		Change password
// @Tags		Auth
// @Security	BearerAuth
// @Param		request	body	ChangePasswordRequest	true	"currentPassword, newPassword"
// @Success		200	{object}	Session
// @Failure		400	{object}	map[string]interface{}	"validation_failed / invalid_credentials"
// @Failure		401	{object}	map[string]interface{}	"unauthenticated"
// @Router		/auth/password [PUT]
func (h *Handler) ChangePassword(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.FromError(c, apperror.Unauthenticated())
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	session, err := h.service.ChangePassword(c.Request.Context(), u, req.CurrentPassword, req.NewPassword)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}
