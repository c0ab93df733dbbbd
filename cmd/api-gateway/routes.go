package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/clearance-api/internal/handler"
	"github.com/noah-isme/clearance-api/internal/middleware"
	"github.com/noah-isme/clearance-api/internal/models"
	"github.com/noah-isme/clearance-api/pkg/config"
	"github.com/noah-isme/clearance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/clearance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/clearance-api/pkg/middleware/requestid"
)

type routeHandlers struct {
	auth        *handler.AuthHandler
	users       *handler.UserHandler
	students    *handler.StudentHandler
	schedule    *handler.ScheduleHandler
	clearances  *handler.ClearanceHandler
	certificate *handler.CertificateHandler
	metrics     *handler.MetricsHandler
}

var adminRoles = []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}

func newRouter(cfg *config.Config, logr *zap.Logger, tokens middleware.TokenValidator, audit middleware.AuditWriter, metrics middleware.RequestObserver, ready func(context.Context) error, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			logr.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", h.auth.Login)
	auth.POST("/refresh", h.auth.Refresh)
	auth.POST("/request-password-reset", h.auth.RequestPasswordReset)
	auth.POST("/reset-password", h.auth.ResetPassword)

	// Signed certificate links carry their own authorization.
	api.GET("/certificates/download", h.certificate.DownloadByToken)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))

	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)
	secured.GET("/auth/me", h.auth.Me)

	secured.GET("/system/status", h.schedule.Status)
	system := secured.Group("/system", middleware.RequireRoles(adminRoles...))
	system.POST("/activate", h.schedule.Activate)
	system.POST("/deactivate", h.schedule.Deactivate)

	clearances := secured.Group("/clearances")
	clearances.POST("", middleware.RequireRoles(models.RoleStudent), h.clearances.Submit)
	clearances.GET("/me", middleware.RequireRoles(models.RoleStudent), h.clearances.Mine)
	clearances.GET("/queue", middleware.RequireStaff(), h.clearances.Queue)
	clearances.GET("/:id", h.clearances.Get)
	clearances.PATCH("/:id/decision", middleware.RequireStaff(), h.clearances.Decide)
	clearances.GET("/:id/certificate", h.certificate.Download)
	clearances.POST("/:id/certificate/link", middleware.Audit(audit, models.AuditActionCertificateLink, "clearance_requests"), h.certificate.Link)

	secured.GET("/students/me", middleware.RequireRoles(models.RoleStudent), h.students.Me)
	students := secured.Group("/students", middleware.RequireRoles(append(adminRoles, models.StaffRoles...)...))
	students.GET("", h.students.List)
	students.GET("/:id", h.students.Get)
	students.PUT("/:id", middleware.RequireRoles(adminRoles...), middleware.Audit(audit, models.AuditActionStudentUpdate, "students"), h.students.Update)
	students.POST("/import", middleware.RequireRoles(adminRoles...), h.students.Import)

	users := secured.Group("/users")
	users.GET("", middleware.RequireRoles(adminRoles...), h.users.List)
	users.POST("", middleware.RequireRoles(models.RoleSuperAdmin), h.users.Create)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), middleware.SelfAccess), h.users.Get)
	users.PUT("/:id", middleware.RequireRoles(models.RoleSuperAdmin), h.users.Update)
	users.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), h.users.Delete)

	admin := secured.Group("/admin", middleware.RequireRoles(adminRoles...))
	admin.GET("/clearance-types", h.schedule.ClearanceTypes)
	admin.GET("/clearances", h.clearances.List)
	admin.GET("/clearances/stats", h.clearances.Stats)
	admin.GET("/clearances/export", h.clearances.Export)
	admin.GET("/metrics", h.metrics.Snapshot)

	return r
}
