package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/clearance-api/api/swagger"
	"github.com/noah-isme/clearance-api/internal/handler"
	"github.com/noah-isme/clearance-api/internal/repository"
	"github.com/noah-isme/clearance-api/internal/service"
	"github.com/noah-isme/clearance-api/pkg/cache"
	"github.com/noah-isme/clearance-api/pkg/config"
	"github.com/noah-isme/clearance-api/pkg/database"
	"github.com/noah-isme/clearance-api/pkg/jobs"
	"github.com/noah-isme/clearance-api/pkg/logger"
	"github.com/noah-isme/clearance-api/pkg/storage"
)

// @title Clearance API
// @version 1.0.0
// @description Multi-department student clearance workflow
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	windowRepo := repository.NewScheduleRepository(db)
	clearanceRepo := repository.NewClearanceRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:   cfg.JWT.Secret,
		AccessTokenExpiry:   cfg.JWT.Expiration,
		RefreshTokenExpiry:  cfg.JWT.RefreshExpiration,
		Issuer:              cfg.JWT.Issuer,
		PasswordResetExpiry: cfg.JWT.ResetExpiration,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, userRepo, validate, logr, service.WithImportLimit(cfg.Import.MaxRows))
	scheduleSvc := service.NewScheduleService(windowRepo, userRepo, validate, logr, service.WithScheduleMetrics(metricsSvc))

	certStore, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare certificate storage", zap.Error(err))
	}
	certSvc := service.NewCertificateService(
		clearanceRepo,
		certStore,
		storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL),
		service.CertificateConfig{APIPrefix: cfg.APIPrefix, Institution: cfg.Certificates.InstitutionName},
		logr,
		service.WithCertificateMetrics(metricsSvc),
	)
	certQueue := jobs.NewQueue("certificates", certSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Certificates.WorkerConcurrency,
		MaxRetries: cfg.Certificates.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, err error) {
			logr.Error("certificate render abandoned", zap.String("request_id", job.ID), zap.Error(err))
		},
	})
	certSvc.UseQueue(certQueue)
	certQueue.Start(ctx)
	defer certQueue.Stop()

	clearanceSvc := service.NewClearanceService(
		clearanceRepo,
		scheduleSvc,
		studentRepo,
		userRepo,
		userRepo,
		validate,
		logr,
		service.WithClearanceCache(cacheSvc),
		service.WithClearanceMetrics(metricsSvc),
		service.WithCertificateScheduler(certSvc),
	)

	handlers := routeHandlers{
		auth:        handler.NewAuthHandler(authSvc),
		users:       handler.NewUserHandler(userSvc),
		students:    handler.NewStudentHandler(studentSvc, cfg.Import.MaxFileBytes),
		schedule:    handler.NewScheduleHandler(scheduleSvc),
		clearances:  handler.NewClearanceHandler(clearanceSvc),
		certificate: handler.NewCertificateHandler(certSvc),
		metrics:     handler.NewMetricsHandler(metricsSvc),
	}
	ready := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := cacheRepo.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
	r := newRouter(cfg, logr, authSvc, userRepo, metricsSvc, ready, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
