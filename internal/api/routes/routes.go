package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"utility-cms/internal/api/handlers"
	"utility-cms/internal/api/middleware"
	"utility-cms/internal/config"
	"utility-cms/internal/metrics"
	"utility-cms/internal/services"
)

func SetupRoutes(r *gin.Engine, cfg *config.Config, db *gorm.DB, svc *services.Services, log *zap.Logger) error {
	// Forwarded headers only count when the peer is a configured proxy, so
	// rate limiting and audit rows see the real socket address by default.
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	handlers.UseJSONFieldNames()

	cookie := handlers.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: !cfg.IsDevelopment(),
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Auth, cookie)
	userHandler := handlers.NewUserHandler(svc.Users)
	roleHandler := handlers.NewRoleHandler(svc.Roles)
	auditHandler := handlers.NewAuditLogHandler(svc.Audit)
	healthHandler := handlers.NewHealthHandler(db)

	require := func(perm services.Permission) gin.HandlerFunc {
		return middleware.Require(svc.Guard, cookie.Name, perm)
	}

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/health", healthHandler.Health)

	admin := api.Group("/admin")

	// Auth routes
	auth := admin.Group("/auth")
	{
		login := []gin.HandlerFunc{}
		if cfg.Security.RateLimit.Enabled {
			limiter := middleware.NewRateLimiter(cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
			login = append(login, limiter.Handler())
		}
		auth.POST("/login", append(login, authHandler.Login)...)

		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", require(""), authHandler.Me)
		auth.GET("/sessions", require(""), authHandler.Sessions)
		auth.PATCH("/password", require(""), authHandler.ChangePassword)
	}

	// User management routes
	users := admin.Group("/users")
	{
		users.GET("", require(services.PermUsersRead), userHandler.GetUsers)
		users.POST("", require(services.PermUsersWrite), userHandler.CreateUser)
		users.PATCH("", require(services.PermUsersWrite), userHandler.UpdateUser)
		users.DELETE("", require(services.PermUsersWrite), userHandler.DeleteUser)
	}

	// Role routes
	roles := admin.Group("/roles")
	{
		roles.GET("", require(services.PermUsersRead), roleHandler.GetRoles)
		roles.POST("", require(services.PermUsersWrite), roleHandler.CreateRole)
		roles.DELETE("", require(services.PermUsersWrite), roleHandler.DeleteRole)
	}

	admin.GET("/audit-logs", require(services.PermAuditRead), auditHandler.GetAuditLogs)
	return nil
}
