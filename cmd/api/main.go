package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/edukita/edukita-api/api/swagger"
	"github.com/edukita/edukita-api/internal/handler"
	"github.com/edukita/edukita-api/internal/middleware"
	"github.com/edukita/edukita-api/internal/repository"
	"github.com/edukita/edukita-api/internal/service"
	"github.com/edukita/edukita-api/pkg/cache"
	"github.com/edukita/edukita-api/pkg/config"
	"github.com/edukita/edukita-api/pkg/database"
	"github.com/edukita/edukita-api/pkg/jobs"
	"github.com/edukita/edukita-api/pkg/logger"
	corsmiddleware "github.com/edukita/edukita-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edukita/edukita-api/pkg/middleware/requestid"
)

// @title Edukita API
// @version 0.1.0
// @description Study session scheduling, enrollment, and notification service
// @BasePath /
// @schemes http

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
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	sessionRepo := repository.NewSessionRepository(db)
	occurrenceRepo := repository.NewOccurrenceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	// Services.
	notificationSvc := service.NewNotificationService(
		enrollmentRepo,
		studentRepo,
		teacherRepo,
		service.NewLoggingSender(logr),
		jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		},
		logr,
	)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	metricsSvc := service.NewMetricsService(notificationSvc.QueueDepth)

	sessionSvc := service.NewSessionService(
		sessionRepo, occurrenceRepo, teacherRepo, notificationSvc, cacheRepo, db, validate, logr,
		service.SessionServiceConfig{
			UpcomingCacheTTL: cfg.Sessions.UpcomingCacheTTL,
			MaxOccurrences:   cfg.Sessions.MaxOccurrences,
		},
	)
	enrollmentSvc := service.NewEnrollmentService(
		sessionRepo, enrollmentRepo, studentRepo, notificationSvc, metricsSvc, db, validate, logr,
	)
	reminderSvc := service.NewReminderService(
		occurrenceRepo, sessionRepo, notificationSvc, metricsSvc, logr,
		service.ReminderServiceConfig{
			LeadTime:     cfg.Reminders.LeadTime,
			PollInterval: cfg.Reminders.PollInterval,
		},
	)
	exportSvc := service.NewRosterExportService(enrollmentSvc, sessionSvc)

	if cfg.Reminders.Enabled {
		go reminderSvc.Run(ctx)
	}

	// Handlers.
	sessionHandler := handler.NewSessionHandler(sessionSvc, reminderSvc, exportSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		sessions := api.Group("/sessions")
		sessions.GET("", sessionHandler.List)
		sessions.POST("", sessionHandler.Create)
		sessions.GET("/upcoming", sessionHandler.Upcoming)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.PUT("/:id", sessionHandler.Reschedule)
		sessions.POST("/:id/cancel", sessionHandler.Cancel)
		sessions.GET("/:id/occurrences", sessionHandler.ListOccurrences)
		sessions.POST("/:id/enrollments", enrollmentHandler.Enroll)
		sessions.DELETE("/:id/enrollments/:studentId", enrollmentHandler.Withdraw)
		sessions.PUT("/:id/capacity", enrollmentHandler.UpdateCapacity)
		sessions.GET("/:id/roster", enrollmentHandler.Roster)
		sessions.GET("/:id/roster/export", sessionHandler.ExportRoster)

		api.POST("/occurrences/:id/reminder", sessionHandler.TriggerReminder)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
