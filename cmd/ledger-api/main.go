package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-ledger-api/api/swagger"
	"github.com/noah-isme/tutor-ledger-api/internal/handler"
	"github.com/noah-isme/tutor-ledger-api/internal/middleware"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/internal/repository"
	"github.com/noah-isme/tutor-ledger-api/internal/service"
	"github.com/noah-isme/tutor-ledger-api/pkg/cache"
	"github.com/noah-isme/tutor-ledger-api/pkg/config"
	"github.com/noah-isme/tutor-ledger-api/pkg/database"
	"github.com/noah-isme/tutor-ledger-api/pkg/jobs"
	"github.com/noah-isme/tutor-ledger-api/pkg/logger"
	reqidmiddleware "github.com/noah-isme/tutor-ledger-api/pkg/middleware/requestid"
)

// @title Tutor Ledger API
// @version 1.0.0
// @description Lesson occurrence scheduling, attendance ledger and revenue reconciliation.
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Statistics.CacheTTL, logr, cfg.Statistics.CacheEnabled && redisClient != nil)

	retrier := database.NewRetrier(cfg.Database.RetryBackoff)
	retrier.OnRetry = func(attempt int, err error) {
		metricsSvc.IncStorageRetry()
		logr.Warn("transient storage failure, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	tx := database.NewTransactor(db, retrier)
	loc := cfg.Location()
	validate := validator.New()

	contractRepo := repository.NewContractRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	rollupRepo := repository.NewRollupRepository(db)

	notifyQueue := jobs.NewQueue("notifications", jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		Logger:     logr,
	})
	generatorQueue := jobs.NewQueue("generator", jobs.QueueConfig{
		Workers: cfg.Generator.JobWorkers,
		Logger:  logr,
	})

	policy := service.LedgerPolicy{AllowTerminatedBackfill: cfg.Ledger.AllowTerminatedBackfill, Location: loc}
	rollupSvc := service.NewRollupService(rollupRepo, cacheSvc, retrier, metricsSvc, logr, loc, cfg.Statistics.CacheTTL)
	notifier := service.NewNotificationService(notifyQueue, service.NotificationConfig{
		WebhookURL: cfg.Notifications.WebhookURL,
		Timeout:    cfg.Notifications.Timeout,
	}, logr)
	contractSvc := service.NewContractService(contractRepo, validate, logr)
	occurrenceSvc := service.NewOccurrenceService(contractRepo, reservationRepo, tx, metricsSvc, logr)
	substitutionSvc := service.NewSubstitutionService(contractRepo, reservationRepo, attendanceRepo, auditRepo, tx, rollupSvc, notifier, metricsSvc, logr, policy)
	ledgerSvc := service.NewLedgerService(contractRepo, reservationRepo, attendanceRepo, tx, substitutionSvc, rollupSvc, metricsSvc, validate, logr, policy)
	correctionSvc := service.NewCorrectionService(contractRepo, reservationRepo, attendanceRepo, ledgerSvc, substitutionSvc, auditRepo, tx, rollupSvc, metricsSvc, validate, logr, loc)
	statementSvc := service.NewStatementService(rollupSvc, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	horizonJob := service.NewHorizonJob(contractRepo, occurrenceSvc, generatorQueue, service.HorizonJobConfig{
		Interval:    cfg.Generator.JobInterval,
		HorizonDays: cfg.Generator.HorizonDays,
		Location:    loc,
	}, logr)

	notifyQueue.Start(ctx)
	defer notifyQueue.Stop()
	if cfg.Generator.JobEnabled {
		generatorQueue.Start(ctx)
		defer generatorQueue.Stop()
		horizonJob.Start(ctx)
		defer horizonJob.Stop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc, "/metrics", "/health"))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": db.PingContext,
		"redis":    cacheRepo.Ping,
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeHandlers{
		contracts:   handler.NewContractHandler(contractSvc, occurrenceSvc),
		attendance:  handler.NewAttendanceHandler(ledgerSvc, substitutionSvc),
		statistics:  handler.NewStatisticsHandler(rollupSvc, statementSvc, validate),
		corrections: handler.NewCorrectionHandler(correctionSvc),
		metrics:     metricsHandler,
	}, tokenSvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", reqidmiddleware.HeaderKey},
		ExposeHeaders:    []string{reqidmiddleware.HeaderKey, "Content-Disposition", "Retry-After"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

type routeHandlers struct {
	contracts   *handler.ContractHandler
	attendance  *handler.AttendanceHandler
	statistics  *handler.StatisticsHandler
	corrections *handler.CorrectionHandler
	metrics     *handler.MetricsHandler
}

func registerRoutes(api *gin.RouterGroup, h routeHandlers, tokens middleware.TokenValidator) {
	api.Use(middleware.JWT(tokens))

	readers := middleware.RequireRoles(models.RoleAdmin, models.RoleTutor, models.RoleService)
	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleTutor, models.RoleService)
	lifecycle := middleware.RequireRoles(models.RoleAdmin, models.RoleService)
	admins := middleware.RequireRoles(models.RoleAdmin)

	contracts := api.Group("/contracts")
	contracts.PUT("/:id", lifecycle, h.contracts.Upsert)
	contracts.GET("/:id", readers, h.contracts.Get)
	contracts.POST("/:id/reservations/generate", lifecycle, h.contracts.Generate)
	contracts.GET("/:id/reservations", readers, h.contracts.ListReservations)
	contracts.GET("/:id/attendance", readers, h.attendance.History)

	reservations := api.Group("/reservations")
	reservations.PUT("/:id/attendance", writers, h.attendance.Record)
	reservations.GET("/:id/attendance", readers, h.attendance.Get)
	reservations.POST("/:id/substitute", writers, h.attendance.Substitute)
	reservations.POST("/:id/substitution/reset", admins, h.attendance.ResetSubstitution)

	api.POST("/attendance/:id/void", writers, h.attendance.Void)

	stats := api.Group("/statistics", readers)
	stats.GET("/monthly", h.statistics.Monthly)
	stats.GET("/yearly", h.statistics.Yearly)
	stats.GET("/export", h.statistics.Export)
	stats.GET("/axis", h.statistics.Axis)

	admin := api.Group("/admin", admins)
	admin.POST("/attendance/:id/void", h.corrections.VoidAttendance)
	admin.POST("/reservations/:id/reset", h.corrections.ResetReservation)
	admin.POST("/reservations/:id/override-date", h.corrections.OverrideDate)
	admin.POST("/reservations/:id/cancel", h.corrections.CancelReservation)
	admin.GET("/audit/:resource/:id", h.corrections.AuditTrail)
	admin.DELETE("/contracts/:id/attendance", middleware.RequireRoles(models.RoleSuperAdmin), h.corrections.PurgeAttendance)

	api.GET("/metrics/summary", admins, h.metrics.Summary)
}
