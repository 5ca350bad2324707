package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	httphandler "storefront-payments/internal/adapters/http"
	"storefront-payments/internal/adapters/messaging/kafka"
	"storefront-payments/internal/adapters/messaging/mock"
	"storefront-payments/internal/adapters/momo"
	"storefront-payments/internal/adapters/storage/memory"
	"storefront-payments/internal/adapters/storage/postgres"
	"storefront-payments/internal/adapters/storage/redis"
	"storefront-payments/internal/app"
	"storefront-payments/internal/config"
	"storefront-payments/internal/core/domain"
	"storefront-payments/internal/core/ports"
	"storefront-payments/internal/observability"
)

const serviceName = "storefront-payments"

func main() {
	// --- 1. Configuration and Logging ---
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	cfg, err := config.Load(config.Path())
	if err != nil {
		fallbackLogger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.App.Env)
	logger.Info("Application starting", "env", cfg.App.Env, "port", cfg.Server.Port, "gateway_mode", cfg.Gateway.Mode)

	// --- 2. Validate critical config ---
	jwtSecret := cfg.JWT.JWTSecret
	if jwtSecret == "" {
		logger.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	// --- 3. Observability ---
	if cfg.Jaeger.Port != "" {
		shutdownTracer, err := observability.InitTracer(cfg.Jaeger.Port, serviceName)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Warn("Failed to shutdown tracer", "error", err)
			}
		}()
	} else {
		logger.Info("Tracing disabled, no OTLP endpoint configured")
	}

	// --- 4. Dependencies ---
	ctx := context.Background()

	var ledger ports.OrderLedger
	if cfg.Postgres.DSN != "" {
		repo, err := postgres.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to ensure ledger schema", "error", err)
			os.Exit(1)
		}
		ledger = repo
		logger.Info("Connected to PostgreSQL")
	} else {
		mem := memory.NewLedger()
		if cfg.App.Env == "development" || cfg.App.Env == "dev" {
			mem.AddOrder("22333", domain.MethodMTNMomo, decimal.RequireFromString("123.34"))
			logger.Info("Seeded demo order", "order_number", "22333")
		}
		ledger = mem
		logger.Warn("No PostgreSQL DSN configured, using in-memory ledger")
	}

	// Redis
	var (
		locker      ports.OrderLocker
		rateLimiter *httphandler.RateLimiterMiddleware
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(cfg.Redis.Addr)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("Failed to close Redis client", "error", err)
			}
		}()
		locker = redis.NewOrderLockAdapter(rdb, cfg.Session.LockTTL, logger)
		rateLimiter = httphandler.NewRateLimiterMiddleware(redis.NewRateLimiterAdapter(rdb), cfg.RateLimit.Limit, cfg.RateLimit.Window, logger)
		logger.Info("Connected to Redis")
	} else {
		locker = memory.NewOrderLocker()
		logger.Warn("No Redis address configured, using in-process order locks without rate limiting")
	}

	// Kafka
	var publisher ports.PaymentEventPublisher
	if cfg.Kafka.BootstrapServers != "" {
		broker, err := kafka.NewBroker(strings.Split(cfg.Kafka.BootstrapServers, ","), cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Error("Failed to create Kafka broker", "error", err)
			os.Exit(1)
		}
		defer broker.Close()
		publisher = broker
		logger.Info("Kafka broker created", "topic", cfg.Kafka.Topic)
	} else {
		broker := mock.NewBroker(logger)
		defer broker.Close()
		publisher = broker
		logger.Warn("No Kafka servers configured, payment outcomes are only logged")
	}

	// --- 5. Service Layer ---
	methods := domain.DefaultPaymentMethods()
	paymentService := app.NewPaymentService(
		ledger,
		momo.NewFactory(cfg.Gateway, logger),
		locker,
		publisher,
		methods,
		app.SessionConfig{PollInterval: cfg.Session.PollInterval, MaxAttempts: cfg.Session.MaxAttempts},
		logger,
	)

	sessionsCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	socketHandler := httphandler.NewPaymentSocketHandler(sessionsCtx, paymentService, cfg.Server.AllowedOrigins, logger)
	methodsHandler := httphandler.NewPaymentMethodsHandler(methods, logger)
	orderHandler := httphandler.NewOrderPaymentHandler(ledger, logger)

	// --- 6. HTTP Router ---
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
	)
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler)
	}
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		observability.NewLoggerMiddleware(logger),
		observability.NewMetricsMiddleware(serviceName),
		observability.NewTracingMiddleware(serviceName),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": serviceName,
		}); err != nil {
			logger.Error("Failed to write health response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	// Storefront payment session
	r.Handle("/wbs/pay/", socketHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/payment-methods", methodsHandler.HandleList)
		r.Post("/payment-methods", methodsHandler.HandleList)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(httphandler.JWTMiddleware([]byte(jwtSecret), logger))
			r.Get("/orders/{number}/payment", orderHandler.HandleGet)
		})
	})

	// --- 7. HTTP Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown
	cancelSessions()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}
	// sessions publish their outcome while unwinding; the broker must outlive them
	if err := socketHandler.Wait(shutdownCtx); err != nil {
		logger.Warn("Payment sessions still running at shutdown", "error", err)
	}

	logger.Info("Server exited properly")
}
