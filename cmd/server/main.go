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
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/accounts"
	"github.com/vecino-app/vecino/internal/api"
	"github.com/vecino-app/vecino/internal/config"
	"github.com/vecino-app/vecino/internal/db"
	"github.com/vecino-app/vecino/internal/delinquency"
	"github.com/vecino-app/vecino/internal/devices"
	"github.com/vecino-app/vecino/internal/dispatch"
	"github.com/vecino-app/vecino/internal/metrics"
	"github.com/vecino-app/vecino/internal/observ"
	"github.com/vecino-app/vecino/internal/publication"
	"github.com/vecino-app/vecino/internal/push"
	"github.com/vecino-app/vecino/internal/redis"
	"github.com/vecino-app/vecino/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting vecino engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("push_provider", cfg.PushProvider),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs receipt dedup and rate limiting; the engine degrades
	// gracefully without it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, receipt dedup and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var receiptDedup *redis.ReceiptDedup
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		receiptDedup = redis.NewReceiptDedup(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  60,
			Window: 1 * time.Minute,
		})
		defer redisClient.Close()
	}

	pushClient, err := buildPushClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create push client: %w", err)
	}

	protected := push.NewProtectedClient(pushClient, push.BreakerConfig{
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}, logger)

	registry := devices.NewRegistry(repo, logger)

	var receipts dispatch.ReceiptDeduper
	if receiptDedup != nil {
		receipts = receiptDedup
	}
	dispatcher := dispatch.New(repo, registry, protected, receipts, logger)

	var suspender delinquency.AccountSuspender
	if cfg.AccountsBaseURL != "" {
		suspender, err = accounts.NewHTTPSuspender(accounts.Config{BaseURL: cfg.AccountsBaseURL}, logger)
		if err != nil {
			return fmt.Errorf("failed to create accounts client: %w", err)
		}
	} else {
		logger.Warn("ACCOUNTS_BASE_URL not set, account suspension will only be logged")
		suspender = accounts.NewLogSuspender(logger)
	}

	tracker := delinquency.NewTracker(repo, dispatcher, suspender, logger)
	releaser := publication.NewReleaser(repo, dispatcher, logger)

	sched, err := scheduler.New(
		func(ctx context.Context) { tracker.RunDailySweep(ctx) },
		releaser.RunReleaseSweep,
		scheduler.Config{
			DelinquencyHour:       cfg.DelinquencySweepHour,
			DelinquencyMinute:     cfg.DelinquencySweepMinute,
			PublicationInterval:   cfg.PublicationPollInterval(),
			RunDelinquencyAtStart: true,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	// Scheduling errors are fatal at process start by design.
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			logger.Info("request completed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(req.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, registry, dispatcher, tracker, repo, cfg.FCMWebhookSecret)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

		r.Post("/devices/register", handler.RegisterDevice)
		r.Post("/devices/deactivate", handler.DeactivateDevice)
		r.Post("/devices/fcm-token-update", handler.UpdateFCMToken)
		r.Post("/devices/test-push", handler.TestPush)

		r.Get("/notifications", handler.ListNotifications)
		r.Get("/notifications/{id}", handler.GetNotification)
		r.Put("/delinquency/{residentID}/balance", handler.ApplyBalance)
		r.Get("/delinquency/{residentID}", handler.GetDelinquencyStatus)
		r.Get("/publications/{id}/status", handler.GetPublicationStatus)
	})

	// Provider callbacks carry no user identity; limit by source IP instead.
	r.Group(func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		r.Post("/device/fcm-webhook", handler.FCMWebhook)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := database.Health(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("redis unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

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

func buildPushClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (push.Client, error) {
	switch cfg.PushProvider {
	case "fcm":
		return push.NewFCMClient(push.FCMConfig{APIKey: cfg.FCMAPIKey}, logger)
	case "sns":
		return push.NewSNSClient(ctx, push.SNSConfig{Region: cfg.AWSRegion}, logger)
	default:
		logger.Warn("using log push client, no real deliveries will happen")
		return push.NewLogClient(logger), nil
	}
}
