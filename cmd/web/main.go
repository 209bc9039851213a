package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ressKim-io/leafscan/internal/adapter/client"
	"github.com/ressKim-io/leafscan/internal/adapter/http/handler"
	"github.com/ressKim-io/leafscan/internal/adapter/http/router"
	"github.com/ressKim-io/leafscan/internal/adapter/preview"
	"github.com/ressKim-io/leafscan/internal/adapter/publisher"
	"github.com/ressKim-io/leafscan/internal/adapter/realtime"
	"github.com/ressKim-io/leafscan/internal/adapter/repository/memory"
	"github.com/ressKim-io/leafscan/internal/adapter/repository/postgres"
	"github.com/ressKim-io/leafscan/internal/adapter/repository/redisstore"
	"github.com/ressKim-io/leafscan/internal/domain/repository"
	"github.com/ressKim-io/leafscan/internal/domain/service"
	"github.com/ressKim-io/leafscan/internal/infrastructure/cache"
	"github.com/ressKim-io/leafscan/internal/infrastructure/config"
	"github.com/ressKim-io/leafscan/internal/infrastructure/database"
	"github.com/ressKim-io/leafscan/internal/infrastructure/logger"
	"github.com/ressKim-io/leafscan/internal/infrastructure/metrics"
	"github.com/ressKim-io/leafscan/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.Server.Mode)

	// Classification history (optional)
	var (
		db      *gorm.DB
		history repository.ClassificationRepository
	)
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(&cfg.Database, cfg.Log.Level)
		if err != nil {
			log.Error("Failed to connect to database", zap.Error(err))
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("Connected to database")

		if err := database.AutoMigrate(db); err != nil {
			log.Error("Failed to run migrations", zap.Error(err))
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("Database migrations completed")

		history = postgres.NewClassificationRepository(db)
	} else {
		log.Info("Classification history disabled")
	}

	// Session store
	var (
		redisClient *redis.Client
		store       repository.SessionStore
	)
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		redisClient, err = cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("Connected to Redis")
		store = redisstore.NewSessionStore(redisClient, cfg.Session.TTL)
	default:
		store, err = memory.NewSessionStore(cfg.Session.MaxSessions, cfg.Session.TTL, log)
		if err != nil {
			return fmt.Errorf("failed to create session store: %w", err)
		}
	}
	log.Info("Session store ready", zap.String("store", cfg.Session.Store))

	// Classification events (optional)
	var events service.EventPublisher = publisher.NewNopPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		events = publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		log.Info("Publishing classification events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	classifierClient := client.NewClassifierClient(cfg.Classifier.URL, cfg.Classifier.PingURL, cfg.Classifier.Timeout)

	uploadUC := usecase.NewUploadUsecase(usecase.UploadDeps{
		Store:      store,
		History:    history,
		Classifier: client.NewImageClassifier(classifierClient),
		Renderer:   preview.NewRenderer(cfg.Preview.MaxWidth, cfg.Preview.MaxHeight),
		Notifier:   realtime.NewHub(),
		Publisher:  events,
		Metrics:    metrics.NewRecorder(),
		Logger:     log,
	})

	r, err := router.Setup(router.Deps{
		DB:         db,
		Redis:      redisClient,
		Classifier: classifierClient,
		UploadUC:   uploadUC,
		Cookie: handler.SessionCookie{
			Name:   cfg.Session.CookieName,
			TTL:    cfg.Session.TTL,
			Secure: cfg.Session.CookieSecure,
		},
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to set up router: %w", err)
	}

	// Create HTTP server. No write timeout: /ws connections are long lived.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server",
			zap.String("address", addr),
			zap.String("classifier_url", cfg.Classifier.URL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
		return err
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let uploads already sent to the classification API finish
	waitUploads(ctx, uploadUC, log)

	if err := events.Close(); err != nil {
		log.Warn("Failed to close event publisher", zap.Error(err))
	}

	if db != nil {
		if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
			_ = sqlDB.Close()
		}
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info("Server exited")
	return nil
}

func waitUploads(ctx context.Context, uc usecase.UploadUsecase, log *zap.Logger) {
	done := make(chan struct{})
	go func() {
		uc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("Uploads still in flight at shutdown")
	}
}
