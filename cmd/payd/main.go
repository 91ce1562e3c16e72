package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"paygate/internal/common/database"
	"paygate/internal/common/middleware"
	commonnats "paygate/internal/common/nats"
	"paygate/internal/ledger"
	"paygate/internal/payments"
	paymentsapi "paygate/internal/payments/api"
	"paygate/internal/reconcile"
	"paygate/internal/registry"
	"paygate/internal/wallet"
	"paygate/internal/webhook"
)

// Config holds service configuration
type Config struct {
	Port         int    `envconfig:"PAY_PORT" default:"8080"`
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	QueueWebhook bool   `envconfig:"WEBHOOK_QUEUE_ENABLED" default:"false"`

	Database database.Config
	NATS     commonnats.Config
	Registry registry.Config
	Sweep    reconcile.SchedulerConfig
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Apply schema migrations
	if err := ledger.Migrate(cfg.Database.URL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS
	nc, err := commonnats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if _, err := nc.EnsureStream(ctx, commonnats.DefaultStreamConfig("PAYGATE", []string{"events.>", "webhooks.>"})); err != nil {
		logger.Error("failed to ensure stream", "error", err)
		os.Exit(1)
	}
	publisher := commonnats.NewPublisher(nc, logger)

	// Create services
	store := ledger.NewPGStore(db)
	walletSvc := wallet.NewService(db, logger)
	reg := registry.New(cfg.Registry, walletSvc, logger)
	paySvc := payments.NewService(reg, store, publisher, logger)
	webhookSvc := webhook.NewService(reg, store, paySvc, logger)
	sweeper := reconcile.NewSweeper(store, reg, paySvc, logger)

	// Consume queued webhooks when the queue path is enabled
	var enqueue func(ctx context.Context, job *commonnats.WebhookJob) error
	if cfg.QueueWebhook {
		consumer, err := nc.EnsureConsumer(ctx, commonnats.DefaultConsumerConfig("webhook-dispatch", "PAYGATE", "webhooks.>"))
		if err != nil {
			logger.Error("failed to ensure webhook consumer", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := nc.ConsumeWebhooks(ctx, consumer, func(ctx context.Context, job *commonnats.WebhookJob) {
				webhookSvc.Handle(ctx, job.Driver, job.Payload, job.Signature)
			}); err != nil && ctx.Err() == nil {
				logger.Error("webhook consumer stopped", "error", err)
			}
		}()
		enqueue = publisher.PublishWebhook
	}

	// Create handlers
	payHandler := paymentsapi.NewHandler(paySvc)
	webhookHandler := webhook.NewHandler(webhookSvc, enqueue, logger)
	reconcileHandler := reconcile.NewHandler(sweeper)

	// Start the sweep scheduler
	scheduler := reconcile.NewScheduler(cfg.Sweep, sweeper, logger)
	go scheduler.Run(ctx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if err := nc.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Mount("/", payHandler.Routes())
	})
	r.Mount("/webhooks", webhookHandler.Routes())
	r.Post("/ops/reconcile", reconcileHandler.RunSweep)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting payment service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"default_driver", reg.DefaultDriver(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
