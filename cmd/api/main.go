package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/colegio-digital/enrollment-api/api/swagger"
	"github.com/colegio-digital/enrollment-api/internal/handler"
	"github.com/colegio-digital/enrollment-api/internal/middleware"
	"github.com/colegio-digital/enrollment-api/internal/models"
	"github.com/colegio-digital/enrollment-api/internal/repository"
	"github.com/colegio-digital/enrollment-api/internal/service"
	"github.com/colegio-digital/enrollment-api/pkg/cache"
	"github.com/colegio-digital/enrollment-api/pkg/config"
	"github.com/colegio-digital/enrollment-api/pkg/database"
	"github.com/colegio-digital/enrollment-api/pkg/export"
	"github.com/colegio-digital/enrollment-api/pkg/logger"
	corsmiddleware "github.com/colegio-digital/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/colegio-digital/enrollment-api/pkg/middleware/requestid"
)

// @title Portal de Inscripciones API
// @version 1.0.0
// @description Enrollment and administration backend for a secondary school
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	draftStore := repository.NewDraftStore(redisClient, cfg.Drafts.TTL)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "enrollment-api",
	})
	accessSvc := service.NewAccessService(userRepo, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, catalogRepo, userRepo, cfg.Enrollment, validate, logr)
	rosterSvc := service.NewRosterService(sectionRepo, enrollmentRepo, accessSvc, userRepo, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, enrollmentRepo, userRepo, validate, logr)
	catalogSvc := service.NewCatalogService(catalogRepo, cacheRepo, cfg.Catalog.CacheTTL, logr)
	draftSvc := service.NewDraftService(draftStore, logr)
	reportSvc := service.NewReportService(reportRepo, enrollmentRepo, paymentRepo, export.NewCSVExporter(), logr)
	userSvc := service.NewUserService(userRepo, sectionRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	draftHandler := handler.NewDraftHandler(draftSvc, metricsSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, accessSvc, metricsSvc)
	sectionHandler := handler.NewSectionHandler(rosterSvc, accessSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, accessSvc, metricsSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Public surface: catalog, drafts, submission.
	api.GET("/catalog/provinces", catalogHandler.Provinces)
	api.GET("/catalog/provinces/:id/departments", catalogHandler.Departments)
	api.GET("/catalog/departments/:id/localities", catalogHandler.Localities)
	api.GET("/catalog/levels", catalogHandler.Levels)
	api.GET("/catalog/source-schools", catalogHandler.SourceSchools)

	api.POST("/drafts", draftHandler.Start)
	api.GET("/drafts/:token", draftHandler.Get)
	api.DELETE("/drafts/:token", draftHandler.Clear)
	api.PUT("/drafts/:token/sections/:section", draftHandler.SaveSection)
	api.GET("/drafts/:token/sections/:section", draftHandler.GetSection)

	api.POST("/enrollments", enrollmentHandler.Submit)
	api.GET("/enrollments/check-duplicate", enrollmentHandler.CheckDuplicate)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	protected := api.Group("", middleware.JWT(authSvc))
	protected.POST("/auth/logout", authHandler.Logout)
	protected.POST("/auth/change-password", authHandler.ChangePassword)

	// Admin and preceptors share the roster views; the services scope
	// preceptors to their assigned sections.
	staff := protected.Group("", middleware.RBAC(models.RoleAdmin, models.RolePreceptor))
	staff.GET("/enrollments/:id", enrollmentHandler.Get)
	staff.GET("/sections", sectionHandler.List)
	staff.GET("/sections/:id/roster", sectionHandler.Roster)
	staff.PUT("/enrollments/:id/section", sectionHandler.Move)
	staff.DELETE("/enrollments/:id/section", sectionHandler.Remove)

	admin := protected.Group("", middleware.RBAC(models.RoleAdmin))
	admin.GET("/enrollments", enrollmentHandler.List)
	admin.PUT("/enrollments/:id", enrollmentHandler.Update)
	admin.PATCH("/enrollments/:id/status", enrollmentHandler.SetStatus)
	admin.DELETE("/enrollments/:id", enrollmentHandler.Delete)
	admin.GET("/enrollments/:id/payments", paymentHandler.ListByEnrollment)

	admin.POST("/sections", sectionHandler.Create)
	admin.DELETE("/sections/:id", sectionHandler.Delete)
	admin.POST("/sections/:id/clear", sectionHandler.Clear)
	admin.GET("/sections/unassigned", sectionHandler.Unassigned)
	admin.POST("/sections/assign", sectionHandler.BulkAssign)

	admin.POST("/payments", paymentHandler.Record)
	admin.GET("/payments", paymentHandler.List)
	admin.PUT("/payments/:id", paymentHandler.Update)
	admin.GET("/payments/insurance-report", paymentHandler.InsuranceReport)
	admin.GET("/payments/totals", paymentHandler.Totals)

	admin.GET("/reports/dashboard", reportHandler.Dashboard)
	admin.GET("/reports/enrollments.csv", reportHandler.ExportEnrollments)
	admin.GET("/reports/treasury.csv", reportHandler.ExportTreasury)

	admin.GET("/students", studentHandler.List)
	admin.GET("/students/by-dni", studentHandler.FindByDNI)
	admin.GET("/students/:id", studentHandler.Get)

	admin.GET("/users", userHandler.List)
	admin.POST("/users", userHandler.Create)
	admin.GET("/users/:id", userHandler.Get)
	admin.PUT("/users/:id", userHandler.Update)
	admin.DELETE("/users/:id", userHandler.Deactivate)
	admin.GET("/users/:id/sections", userHandler.SectionAssignments)
	admin.POST("/users/:id/sections", userHandler.AssignSection)
	admin.DELETE("/users/:id/sections/:sectionId", userHandler.UnassignSection)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
