package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/handler"
	"github.com/kovancilartr/learnapp-api/internal/middleware"
	"github.com/kovancilartr/learnapp-api/internal/models"
)

type routeDeps struct {
	tokens        middleware.TokenValidator
	audit         middleware.AuditRecorder
	requests      *handler.EnrollmentRequestHandler
	notifications *handler.NotificationHandler
	ops           *handler.MetricsHandler
	logger        *zap.Logger
	docs          bool
}

func registerRoutes(r *gin.Engine, prefix string, deps routeDeps) {
	r.GET("/health", deps.ops.Health)
	r.GET("/ready", deps.ops.Ready)
	r.GET("/metrics", deps.ops.Prometheus)
	if deps.docs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admins := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	audit := func(action string) gin.HandlerFunc {
		if deps.audit == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.Audit(deps.audit, action, models.AuditResourceEnrollmentRequest, deps.logger)
	}
	api := r.Group(prefix, middleware.JWT(deps.tokens))

	api.GET("/ops/metrics", admins, deps.ops.Summary)

	requests := api.Group("/enrollment-requests")
	requests.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin), deps.requests.Submit)
	requests.GET("", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin), deps.requests.List)
	requests.GET("/statistics", admins, deps.requests.Statistics)
	requests.GET("/pending-count", admins, deps.requests.PendingCount)
	requests.GET("/export", admins, deps.requests.Export)
	requests.POST("/bulk-review", admins, audit(models.AuditActionBulkReview), deps.requests.BulkReview)
	requests.GET("/:id", deps.requests.Get)
	requests.POST("/:id/approve", admins, audit(models.AuditActionRequestApprove), deps.requests.Approve)
	requests.POST("/:id/reject", admins, audit(models.AuditActionRequestReject), deps.requests.Reject)
	requests.DELETE("/:id", admins, audit(models.AuditActionRequestDelete), deps.requests.Delete)

	notifications := api.Group("/notifications")
	notifications.GET("", deps.notifications.List)
	notifications.PATCH("/:id/read", deps.notifications.MarkRead)
}
