// Package server assembles the HTTP API from the configured collaborators.
package server

import (
	"fmt"
	"net/http"

	"fitstudio/internal/config"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/logging"
	"fitstudio/internal/mailer"
	"fitstudio/internal/middleware"
	"fitstudio/internal/modules/admin"
	"fitstudio/internal/modules/auth"
	"fitstudio/internal/modules/chat"
	"fitstudio/internal/modules/entitlement"
	"fitstudio/internal/modules/payment"
	"fitstudio/internal/pkg/password"
	"fitstudio/internal/pkg/response"
	"fitstudio/internal/pkg/validator"
	"fitstudio/internal/ratelimit"
	"fitstudio/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the process-wide collaborators built by the caller.
type Deps struct {
	Config  *config.Config
	Store   user.Store
	Mailer  mailer.Mailer
	Limiter ratelimit.Limiter
	Gateway entitlement.Gateway
	Ring    *logging.Ring
	Log     *zap.Logger
}

// Server is the assembled API. Entitlements and Hub are exposed for the
// background reconciler and shutdown.
type Server struct {
	Engine       *gin.Engine
	Entitlements *entitlement.Service
	Hub          *chat.Hub
}

func New(d Deps) (*Server, error) {
	cfg := d.Config
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	ring := d.Ring
	if ring == nil {
		ring = logging.NewRing(logging.DefaultRingSize)
	}

	hasher, err := password.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	sessions := token.NewService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, cfg.Auth.ClockSkew)
	secrets := token.NewSecrets(cfg.Auth.TokenPepper)
	guard := ratelimit.NewGuard(d.Limiter, log.Named("ratelimit"))
	authn := middleware.NewAuthenticator(sessions, d.Store, log.Named("authn"))

	authService := auth.NewService(d.Store, hasher, sessions, secrets, d.Mailer, guard, auth.Options{
		Policy: password.Policy{
			MinLength:      cfg.Password.MinLength,
			RequireUpper:   cfg.Password.RequireUpper,
			RequireLower:   cfg.Password.RequireLower,
			RequireDigit:   cfg.Password.RequireDigit,
			RequireSpecial: cfg.Password.RequireSpecial,
		},
		OTPTTL:           cfg.Auth.OTPTTL,
		ResetTokenTTL:    cfg.Auth.ResetTokenTTL,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutWindow:    cfg.Auth.LockoutWindow,
		AppBaseURL:       cfg.AppBaseURL,
	}, log.Named("auth"))

	entitlements := entitlement.NewService(d.Store, d.Gateway, entitlement.Catalog{
		Plans:      cfg.Payment.Plans,
		Programs:   cfg.Payment.Programs,
		SuccessURL: cfg.Payment.SuccessURL,
		CancelURL:  cfg.Payment.CancelURL,
	}, log.Named("entitlement"))

	consumer := payment.NewConsumer(cfg.Payment.WebhookSecret, entitlements, log.Named("webhook"))
	adminService := admin.NewService(d.Store, ring, log.Named("admin"))
	hub := chat.NewHub()

	authHandler := auth.NewHandler(authService, guard)
	entitlementHandler := entitlement.NewHandler(entitlements)
	paymentHandler := payment.NewHandler(consumer, guard)
	adminHandler := admin.NewHandler(adminService)
	chatHandler := chat.NewHandler(hub, authn, cfg.CORSOrigins, log.Named("chat"))

	validator.Setup()

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		response.Error(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(log.Named("http")),
		middleware.Metrics(),
		middleware.CORS(cfg.CORSOrigins, !cfg.IsProd()),
	)

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", middleware.InternalToken(cfg.MetricsToken, log), gin.WrapH(promhttp.Handler()))

	// The webhook signature covers the raw body, so it bypasses the body guards.
	paymentHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	v1 := r.Group("/api/v1", middleware.OperatorGuard(log), middleware.StripForbiddenFields(log))
	{
		authHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("", authn.RequireAuth())
		{
			authHandler.RegisterProtectedRoutes(protected)
			entitlementHandler.RegisterProtectedRoutes(protected)
			adminHandler.RegisterRoutes(protected.Group("/admin", middleware.AdminOnly()))
		}
	}

	return &Server{Engine: r, Entitlements: entitlements, Hub: hub}, nil
}
