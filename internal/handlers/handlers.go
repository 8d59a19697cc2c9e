package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"consultancy/api/internal/middleware"
	"consultancy/api/internal/models"
	"consultancy/api/internal/service"
)

type Deps struct {
	Log         zerolog.Logger
	Environment string
	Auth        *service.AuthService
	Admin       *service.AdminService
	Tokens      middleware.AccessVerifier
	// RateLimit guards the /auth routes; nil disables limiting.
	RateLimit gin.HandlerFunc
	Checks    []HealthCheck
}

type HandlerSet struct {
	log          zerolog.Logger
	environment  string
	authService  *service.AuthService
	adminService *service.AdminService
	tokens       middleware.AccessVerifier
	rateLimit    gin.HandlerFunc
	checks       []HealthCheck
}

func NewHandlerSet(deps Deps) HandlerSet {
	registerValidatorTags()

	return HandlerSet{
		log:          deps.Log,
		environment:  deps.Environment,
		authService:  deps.Auth,
		adminService: deps.Admin,
		tokens:       deps.Tokens,
		rateLimit:    deps.RateLimit,
		checks:       deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		if h.rateLimit != nil {
			auth.Use(h.rateLimit)
		}
		auth.POST("/register", h.RegisterAccount)
		auth.POST("/login", h.Login)
		auth.POST("/mfa/verify", h.VerifyMFA)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/verify-email", h.VerifyEmail)
		auth.POST("/resend-verification", h.ResendVerification)
		auth.POST("/request-password-reset", h.RequestPasswordReset)
		auth.POST("/reset-password", h.ResetPassword)

		protected := auth.Group("")
		protected.Use(middleware.Auth(h.tokens))
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.DELETE("/me", h.EraseAccount)
		protected.POST("/me/export", h.ExportData)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:id", h.RevokeSession)
		protected.POST("/mfa/setup", h.SetupMFA)
		protected.POST("/mfa/enable", h.EnableMFA)
		protected.POST("/mfa/disable", h.DisableMFA)
	}

	admin := v1.Group("/admin")
	admin.Use(
		middleware.Auth(h.tokens),
		middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleSuperAdmin),
	)
	admin.GET("/users", h.AdminListUsers)
	admin.PATCH("/users/:id/status", h.AdminSetStatus)
	admin.GET("/stats", h.AdminStats)
}
