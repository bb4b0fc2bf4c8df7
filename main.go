package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidfetch/config"
	"vidfetch/internal/extractor"
	"vidfetch/internal/handler"
	"vidfetch/internal/repository"
	"vidfetch/internal/service"
	"vidfetch/internal/storage"
	"vidfetch/pkg/clock"
	"vidfetch/pkg/logger"
	"vidfetch/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	if err := logger.Init(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Logger.Info("Starting vidfetch server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	fs := afero.NewOsFs()
	clk := clock.System{}

	if err := fs.MkdirAll(cfg.Storage.TempDir, 0755); err != nil {
		logger.Logger.Fatal("Failed to create temp directory", zap.Error(err))
	}

	// Initialize storage manager
	storageManager := storage.NewManager(&cfg.Storage, fs, clk)
	if err := storageManager.EnsureDownloadDir(); err != nil {
		logger.Logger.Fatal("Failed to create download directory", zap.Error(err))
	}
	storageManager.Start()
	defer storageManager.Stop()

	// Initialize admission services
	rateLimitService := service.NewRateLimitService(&cfg.RateLimit, clk)
	defer rateLimitService.Stop()

	quotaService := service.NewQuotaService(&cfg.Quota, clk)
	defer quotaService.Stop()

	qualityService := service.NewQualityService(&cfg.Quality, cfg.Download.MaxOutputSizeBytes)
	progressTracker := service.NewProgressTracker(service.DefaultProgressInterval)

	// Initialize the extraction tool binding
	ytdlp := extractor.NewYTDLP(cfg.Download.YTDLPPath, fs)

	downloadService := service.NewDownloadService(
		cfg,
		fs,
		ytdlp,
		qualityService,
		progressTracker,
		rateLimitService,
		quotaService,
		storageManager,
		clk,
	)
	downloadService.Start()
	defer downloadService.Stop()

	videoService := service.NewVideoService(ytdlp, qualityService)

	// Optional history backend
	var historyService *service.HistoryService
	if cfg.History.Enabled {
		opts, err := redis.ParseURL(cfg.History.RedisURL)
		if err != nil {
			logger.Logger.Fatal("Invalid Redis URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Logger.Fatal("Cannot reach Redis", zap.String("url", cfg.History.RedisURL), zap.Error(err))
		}
		cancel()
		defer redisClient.Close()

		historyRepo := repository.NewHistoryRepository(redisClient, cfg.History.MaxEntries)
		historyService = service.NewHistoryService(historyRepo, clk)
		downloadService.SetCompletionCallback(historyService.RecordJob)

		logger.Logger.Info("Download history enabled",
			zap.Int("max_entries", cfg.History.MaxEntries))
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add middleware
	router.Use(logger.GinLogger())
	router.Use(middleware.RequestIdentity())

	if cfg.RateLimit.Enabled {
		logger.Logger.Info("Rate limiting enabled",
			zap.Int("max_requests", cfg.RateLimit.MaxRequests),
			zap.Int("window_seconds", cfg.RateLimit.WindowSeconds))
	}
	if cfg.Quota.Enabled {
		logger.Logger.Info("Quota limiting enabled",
			zap.Int64("daily_limit_mb", cfg.Quota.DailyLimitMB),
			zap.Int("reset_hour", cfg.Quota.ResetHour))
	}

	// API handlers
	videoHandler := handler.NewVideoHandler(videoService, cfg)
	downloadHandler := handler.NewDownloadHandler(downloadService, progressTracker, rateLimitService, qualityService, cfg)

	// Routes
	api := router.Group("/api")
	{
		// Video info
		api.GET("/video/info", videoHandler.GetVideoInfo)

		// Downloads
		api.POST("/download", downloadHandler.StartDownload)
		api.GET("/download/:id", downloadHandler.GetFile)

		// Jobs
		api.GET("/jobs/:id", downloadHandler.GetJob)
		api.GET("/jobs/:id/events", downloadHandler.StreamEvents)
		api.DELETE("/jobs/:id", downloadHandler.CancelJob)

		// Health check
		api.GET("/health", videoHandler.HealthCheck)

		// History and favorites, only with a backend to store them
		if historyService != nil {
			historyHandler := handler.NewHistoryHandler(historyService, cfg)
			api.GET("/history", historyHandler.GetHistory)
			api.GET("/stats", historyHandler.GetStats)
			api.GET("/favorites", historyHandler.ListFavorites)
			api.POST("/favorites", historyHandler.AddFavorite)
			api.DELETE("/favorites/:id", historyHandler.RemoveFavorite)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Logger.Info("Server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Cancel running jobs and wait for their scoped cleanup
	downloadService.Shutdown()

	logger.Logger.Info("Server stopped")
}
