// Package server assembles the HTTP router: middleware, services and routes.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"agriplan/internal/cache"
	"agriplan/internal/config"
	"agriplan/internal/handlers"
	"agriplan/internal/middleware"
	"agriplan/internal/services"
)

// New builds the router. cacheClient may be nil, in which case token
// revocation and login throttling are disabled.
func New(cfg *config.Config, db *gorm.DB, cacheClient *cache.Client) *gin.Engine {
	// Services
	userService := services.NewUserService(db)
	unitService := services.NewUnitService(db)
	indicatorService := services.NewIndicatorService(db)
	planService := services.NewPlanService(db)
	reportService := services.NewReportService(db)
	importService := services.NewImportService(db)
	exportService := services.NewExportService(db)
	dashboardService := services.NewDashboardService(db)
	auditService := services.NewAuditService(db)

	tokens := middleware.NewTokenManager(cfg.Auth)

	// Handlers
	authHandler := handlers.NewAuthHandler(userService, auditService, tokens, cacheClient)
	userHandler := handlers.NewUserHandler(userService)
	unitHandler := handlers.NewUnitHandler(unitService)
	indicatorHandler := handlers.NewIndicatorHandler(indicatorService)
	planHandler := handlers.NewPlanHandler(planService)
	reportHandler := handlers.NewReportHandler(reportService)
	importExportHandler := handlers.NewImportExportHandler(importService, exportService, cfg.Import.MaxFileBytes)
	dashboardHandler := handlers.NewDashboardHandler(dashboardService)
	auditHandler := handlers.NewAuditHandler(auditService)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.BodyLimit(cfg.Server.BodyLimitBytes))
	router.Use(middleware.ErrorHandler())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	// Public auth routes
	auth := v1.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", middleware.RateLimit(cacheClient, cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow), authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens, cacheClient))
	protected.Use(middleware.LoadSubject(userService))

	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.Me)

	users := protected.Group("/users")
	users.GET("", userHandler.ListUsers)
	users.POST("", userHandler.CreateUser)
	users.PUT("/:id", userHandler.UpdateUser)
	users.DELETE("/:id", userHandler.DeactivateUser)

	units := protected.Group("/units")
	units.GET("", unitHandler.ListUnits)
	units.POST("", unitHandler.CreateUnit)
	units.GET("/:id", unitHandler.GetUnit)
	units.PUT("/:id", unitHandler.UpdateUnit)
	units.DELETE("/:id", unitHandler.DeleteUnit)
	units.GET("/:id/usage", unitHandler.GetUnitUsage)
	units.GET("/:id/statistics", unitHandler.GetUnitStatistics)

	indicators := protected.Group("/indicators")
	indicators.GET("", indicatorHandler.ListIndicators)
	indicators.POST("", indicatorHandler.CreateIndicator)
	indicators.GET("/validate_code", indicatorHandler.ValidateCode)
	indicators.GET("/:id", indicatorHandler.GetIndicator)
	indicators.PUT("/:id", indicatorHandler.UpdateIndicator)
	indicators.DELETE("/:id", indicatorHandler.DeleteIndicator)
	indicators.POST("/:id/toggle_active", indicatorHandler.ToggleActive)

	plans := protected.Group("/annual-plans")
	plans.GET("", planHandler.ListPlans)
	plans.POST("", planHandler.CreatePlan)
	plans.POST("/bulk_approve", planHandler.BulkApprovePlans)
	plans.POST("/bulk_reject", planHandler.BulkRejectPlans)
	plans.GET("/:id", planHandler.GetPlan)
	plans.DELETE("/:id", planHandler.DeletePlan)
	plans.POST("/:id/submit", planHandler.SubmitPlan)
	plans.POST("/:id/approve", planHandler.ApprovePlan)
	plans.POST("/:id/reject", planHandler.RejectPlan)
	plans.POST("/:id/targets", planHandler.AddTarget)
	plans.PUT("/:id/targets/:targetId", planHandler.UpdateTarget)
	plans.DELETE("/:id/targets/:targetId", planHandler.DeleteTarget)

	reports := protected.Group("/quarterly-reports")
	reports.GET("", reportHandler.ListReports)
	reports.POST("", reportHandler.CreateReport)
	reports.POST("/bulk_approve", reportHandler.BulkApproveReports)
	reports.POST("/bulk_reject", reportHandler.BulkRejectReports)
	reports.GET("/:id", reportHandler.GetReport)
	reports.DELETE("/:id", reportHandler.DeleteReport)
	reports.POST("/:id/submit", reportHandler.SubmitReport)
	reports.POST("/:id/approve", reportHandler.ApproveReport)
	reports.POST("/:id/reject", reportHandler.RejectReport)
	reports.POST("/:id/entries", reportHandler.AddEntry)
	reports.PUT("/:id/entries/:entryId", reportHandler.UpdateEntry)
	reports.DELETE("/:id/entries/:entryId", reportHandler.DeleteEntry)

	importExport := protected.Group("/import-export")
	importExport.POST("/import_data", importExportHandler.ImportData)
	importExport.GET("/recent_imports", importExportHandler.RecentImports)
	importExport.GET("/export_options", importExportHandler.ExportOptions)
	importExport.GET("/export_annual_plans", importExportHandler.ExportAnnualPlans)
	importExport.GET("/export_quarterly_reports", importExportHandler.ExportQuarterlyReports)
	importExport.GET("/export_indicators", importExportHandler.ExportIndicators)
	importExport.GET("/export_audit_log", importExportHandler.ExportAuditLog)

	dashboard := protected.Group("/dashboard")
	dashboard.GET("/stats", dashboardHandler.Stats)
	dashboard.GET("/recent_activities", dashboardHandler.RecentActivities)
	dashboard.GET("/pending_approvals", dashboardHandler.PendingApprovals)
	dashboard.GET("/performance_summary", dashboardHandler.PerformanceSummary)

	protected.GET("/audit-logs", auditHandler.ListAudits)

	return router
}
