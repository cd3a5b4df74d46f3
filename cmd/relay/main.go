package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/larkind/pushrelay/internal/api"
	"github.com/larkind/pushrelay/internal/broadcast"
	"github.com/larkind/pushrelay/internal/circuitbreaker"
	"github.com/larkind/pushrelay/internal/config"
	"github.com/larkind/pushrelay/internal/db"
	"github.com/larkind/pushrelay/internal/expo"
	"github.com/larkind/pushrelay/internal/metrics"
	"github.com/larkind/pushrelay/internal/observ"
	"github.com/larkind/pushrelay/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pushrelay",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for broadcast history (optional)
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, broadcast history disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var resultCache *redis.ResultCache
	if redisClient != nil {
		resultCache = redis.NewResultCache(redisClient, logger)
		defer redisClient.Close()
	}

	// One push gateway client for the process lifetime, injected into the
	// pipeline rather than held as package state.
	expoClient := expo.NewClient(expo.Config{
		BaseURL:   cfg.ExpoBaseURL,
		BatchSize: cfg.ExpoBatchSize,
		Timeout:   time.Duration(cfg.ExpoTimeout) * time.Second,
	}, logger)

	var gateway broadcast.Gateway = expoClient
	if cfg.BreakerEnabled {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("expo"), logger)
		gateway = circuitbreaker.NewProtectedGateway(expoClient, breaker, logger)
	}

	pipeline := broadcast.New(repo, repo, gateway, logger)

	logger.Info("broadcast pipeline initialized",
		zap.String("gateway", cfg.ExpoBaseURL),
		zap.Int("batch_size", cfg.ExpoBatchSize),
		zap.Bool("breaker_enabled", cfg.BreakerEnabled),
		zap.Bool("history_enabled", resultCache != nil),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if resultCache != nil {
		handler = api.NewHandlerWithResults(logger, repo, pipeline, resultCache)
	} else {
		handler = api.NewHandler(logger, repo, pipeline)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tokens", handler.RegisterToken)
		r.Delete("/tokens", handler.UnregisterToken)
		r.Get("/tokens", handler.GetToken)

		r.Post("/broadcasts", handler.CreateBroadcast)
		r.Get("/broadcasts/recent", handler.RecentBroadcasts)
		r.Get("/logs", handler.ListNotificationLogs)

		// Client error telemetry
		r.Post("/errors", handler.CreateErrorReport)
		r.Get("/errors", handler.ListErrorReports)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
