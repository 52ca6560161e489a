package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lessonhub/lessonhub/internal/app"
	"github.com/lessonhub/lessonhub/internal/cache"
	"github.com/lessonhub/lessonhub/internal/clock"
	"github.com/lessonhub/lessonhub/internal/config"
	"github.com/lessonhub/lessonhub/internal/controller/httpapi"
	"github.com/lessonhub/lessonhub/internal/lock"
	"github.com/lessonhub/lessonhub/internal/repository"
	"github.com/lessonhub/lessonhub/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Database connected")

	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	// Репозитории и инфраструктура
	bookingStore := repository.NewBookingStore(pool)
	packageRepo := repository.NewPackageRepository(pool)
	advisoryLocker := lock.NewAdvisoryLocker(redisClient, cfg.AdvisoryLockTTL)
	busyCache := cache.NewBusyWindowCache(redisClient, cfg.BusyWindowCacheTTL)

	// Сервисы
	packageSvc := service.NewPackageService(packageRepo, logger)
	bookingSvc := service.NewBookingService(bookingStore, packageSvc, busyCache, cfg.LockRetry, logger)
	sweeperSvc := service.NewSweeperService(
		bookingStore,
		advisoryLocker,
		cfg.RequestTTL,
		cfg.SessionEndGrace,
		cfg.SweepBatchLimit,
		logger,
	)

	// Фоновые задачи: свиперы и монитор расхождения часов
	scheduler := app.NewScheduler(sweeperSvc, cfg, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	dbClock := clock.NewClock(pool)
	skewMonitor := clock.NewSkewMonitor(dbClock, logger, cfg.ClockSkewThreshold, cfg.ClockSkewCheckInterval)
	skewMonitor.Start(ctx)
	defer skewMonitor.Stop()

	apiServer := httpapi.NewServer(bookingSvc, packageSvc, sweeperSvc, logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
