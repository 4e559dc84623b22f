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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/kovancilartr/learnapp-api/api/swagger"
	"github.com/kovancilartr/learnapp-api/internal/handler"
	"github.com/kovancilartr/learnapp-api/internal/middleware"
	"github.com/kovancilartr/learnapp-api/internal/repository"
	"github.com/kovancilartr/learnapp-api/internal/service"
	"github.com/kovancilartr/learnapp-api/migrations"
	"github.com/kovancilartr/learnapp-api/pkg/cache"
	"github.com/kovancilartr/learnapp-api/pkg/config"
	"github.com/kovancilartr/learnapp-api/pkg/database"
	"github.com/kovancilartr/learnapp-api/pkg/export"
	"github.com/kovancilartr/learnapp-api/pkg/logger"
	"github.com/kovancilartr/learnapp-api/pkg/mailer"
	corsmiddleware "github.com/kovancilartr/learnapp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/kovancilartr/learnapp-api/pkg/middleware/requestid"
	"github.com/kovancilartr/learnapp-api/pkg/webhook"
)

const (
	cacheKeyPrefix  = "learnapp:"
	shutdownTimeout = 15 * time.Second
)

// @title LearnApp API
// @version 1.0.0
// @description Enrollment request lifecycle and bulk review
// @BasePath /
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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db, migrations.FS, ".")
		if err != nil {
			return err
		}
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	metrics := service.NewMetricsService()
	if err := metrics.RegisterDBStats(db.DB, "postgres"); err != nil {
		return fmt.Errorf("register db metrics: %w", err)
	}

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	cacheRepo := repository.NewCacheRepository(nil, cacheKeyPrefix)
	cacheEnabled := cfg.Cache.Enabled
	if cacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
			cacheEnabled = false
		} else {
			defer client.Close()
			cacheRepo = repository.NewCacheRepository(client, cacheKeyPrefix)
			checks["redis"] = cacheRepo.Ping
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.StatsTTL, logr, cacheEnabled)

	requestRepo := repository.NewEnrollmentRequestRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var mail service.MailSender
	if m := mailer.NewSendGrid(cfg.Notifications.SendGridAPIKey, cfg.Notifications.MailFromName, cfg.Notifications.MailFromAddress); m != nil {
		mail = m
	}
	var hook service.WebhookPoster
	if h := webhook.New(cfg.Notifications.WebhookURL, cfg.Notifications.WebhookTimeout); h != nil {
		hook = h
	}
	notifications := service.NewNotificationService(notificationRepo, mail, hook, service.NotificationConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, metrics, logr)
	notifications.Start(context.WithoutCancel(ctx))

	requests := service.NewEnrollmentRequestService(
		requestRepo,
		enrollmentRepo,
		repository.NewTransactor(db),
		studentRepo,
		courseRepo,
		nil,
		logr,
		service.WithOutcomeNotifier(notifications),
		service.WithRequestCache(cacheSvc),
		service.WithRequestMetrics(metrics),
	)
	bulk := service.NewEnrollmentBulkService(requests, service.BulkConfig{
		Concurrency: cfg.Enrollment.BulkConcurrency,
		MaxItems:    cfg.Enrollment.BulkMaxItems,
	}, metrics, logr)
	queries := service.NewEnrollmentRequestQueryService(requestRepo, studentRepo, cacheSvc, map[string]service.TableRenderer{
		"csv": export.NewCSVExporter(),
		"pdf": export.NewPDFExporter(),
	}, service.QueryConfig{
		StatsTTL:      cfg.Cache.StatsTTL,
		ExportMaxRows: cfg.Enrollment.ExportMaxRows,
	}, metrics, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	registerRoutes(r, cfg.APIPrefix, routeDeps{
		tokens:        service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer),
		audit:         repository.NewAuditRepository(db),
		requests:      handler.NewEnrollmentRequestHandler(requests, bulk, queries),
		notifications: handler.NewNotificationHandler(notifications),
		ops:           handler.NewMetricsHandler(metrics, checks),
		logger:        logr,
		docs:          cfg.Env != config.EnvProduction,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	notifications.Stop(shutdownCtx)
	return nil
}
