package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/cursoshq/cursos-api/api/swagger"
	"github.com/cursoshq/cursos-api/internal/handler"
	"github.com/cursoshq/cursos-api/internal/middleware"
	"github.com/cursoshq/cursos-api/internal/models"
	"github.com/cursoshq/cursos-api/internal/repository"
	"github.com/cursoshq/cursos-api/internal/service"
	"github.com/cursoshq/cursos-api/pkg/cache"
	"github.com/cursoshq/cursos-api/pkg/config"
	"github.com/cursoshq/cursos-api/pkg/database"
	"github.com/cursoshq/cursos-api/pkg/logger"
	corsmiddleware "github.com/cursoshq/cursos-api/pkg/middleware/cors"
	reqidmiddleware "github.com/cursoshq/cursos-api/pkg/middleware/requestid"
)

// @title Cursos Back Office API
// @version 1.0.0
// @description Course management back office with an enrollment ledger.
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

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db, cfg.Enrollment.CodePrefix, logr)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	auditSvc := service.NewAuditService(auditRepo, logr, cfg.Audit.QueueWorkers, cfg.Audit.QueueSize, metrics)
	auditSvc.Start(context.Background())
	defer auditSvc.Stop()

	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, cfg.JWT)
	courseSvc := service.NewCourseService(courseRepo, auditSvc, validate, logr)
	participantSvc := service.NewParticipantService(participantRepo, enrollmentRepo, auditSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, participantRepo, courseRepo, auditSvc, validate, logr, cfg.Enrollment.TxTimeout, metrics)
	dashboardSvc := service.NewDashboardService(enrollmentRepo, cacheRepo, logr, cfg.Dashboard.CacheTTL, metrics)
	auditQuerySvc := service.NewAuditQueryService(auditRepo)

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	participantHandler := handler.NewParticipantHandler(participantSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc, auditQuerySvc, metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "reason": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		authed := auth.Group("")
		authed.Use(middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.GET("/me", authHandler.Me)
		authed.PUT("/password", authHandler.ChangePassword)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	courses := protected.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.POST("", writers, courseHandler.Create)
		courses.PUT("/:id", writers, courseHandler.Update)
		courses.DELETE("/:id", writers, courseHandler.Delete)
	}

	participants := protected.Group("/participants")
	{
		participants.GET("", participantHandler.List)
		participants.GET("/:id", participantHandler.Get)
		participants.POST("", writers, participantHandler.Create)
		participants.PUT("/:id", writers, participantHandler.Update)
		participants.DELETE("/:id", writers, participantHandler.Delete)
	}

	enrollments := protected.Group("/enrollments")
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.POST("", writers, enrollmentHandler.Create)
		enrollments.PUT("/:id", writers, enrollmentHandler.Update)
		enrollments.DELETE("/:id", writers, enrollmentHandler.Delete)
	}

	if cfg.Dashboard.Enabled {
		protected.GET("/dashboard/overview", dashboardHandler.Overview)
	}
	protected.GET("/metrics/summary", dashboardHandler.SystemMetrics)
	protected.GET("/audit", middleware.RequireRoles(models.RoleSuperAdmin), dashboardHandler.AuditTrail)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
