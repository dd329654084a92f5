package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/compressor/internal/config"
	"github.com/therealutkarshpriyadarshi/compressor/internal/encoding"
	"github.com/therealutkarshpriyadarshi/compressor/internal/logging"
	"github.com/therealutkarshpriyadarshi/compressor/internal/metrics"
	"github.com/therealutkarshpriyadarshi/compressor/internal/middleware"
	"github.com/therealutkarshpriyadarshi/compressor/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/compressor/internal/relay"
	"github.com/therealutkarshpriyadarshi/compressor/internal/tracing"
	"github.com/therealutkarshpriyadarshi/compressor/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/compressor/internal/upload"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Initialize tracing
	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer tracerCloser.Close()

	// Start metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
	}

	workspace, err := upload.NewWorkspace(cfg.Upload, logger)
	if err != nil {
		logger.Fatalf("Failed to prepare upload directory: %v", err)
	}

	// Wire the pipeline
	ffmpeg := transcoder.NewFFmpeg(cfg.Encoder, logger)
	codec := encoding.NewCodec()
	p := pipeline.New(cfg.Encoder, ffmpeg, ffmpeg, codec, relay.NewClient(cfg.Relay), logger)

	api := &API{
		runner:        p,
		decoder:       codec,
		workspace:     workspace,
		defaultCookie: cfg.Relay.Cookie,
		maxUploadSize: cfg.Server.MaxUploadSize,
		logger:        logger.WithComponent("api"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workspace.RunSweeper(ctx)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go limiter.Cleanup(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, logger, cfg.Auth.JWTSecret, limiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown; in-flight pipelines finish within the timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr("Metrics server forced to shutdown", err)
		}
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger, jwtSecret string, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger), middleware.Metrics())

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	compressor := router.Group("/api/v1/compressor")
	if jwtSecret != "" {
		compressor.Use(middleware.JWTAuth(jwtSecret))
	}
	if limiter != nil {
		compressor.Use(middleware.RateLimit(limiter))
	}
	{
		compressor.POST("", api.compress)
		compressor.POST("/encoded", api.compressEncoded)
	}

	return router
}
