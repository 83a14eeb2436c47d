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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"paygate/internal/bankcode"
	"paygate/internal/common/database"
	"paygate/internal/common/events"
	"paygate/internal/common/middleware"
	"paygate/internal/common/nats"
	"paygate/internal/common/ratelimit"
	"paygate/internal/gateway"
	"paygate/internal/gateway/bibpay"
	"paygate/internal/gateway/payonex"
	"paygate/internal/payment"
	"paygate/internal/payment/api"
	"paygate/internal/token"
)

// ServeConfig holds service configuration
type ServeConfig struct {
	LogConfig
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	Database  database.Config
	NATS      nats.Config
	RateLimit ratelimit.Config
	Engine    payment.Config
	BibPay    bibpay.Config
	PayOneX   payonex.Config
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg ServeConfig
			if err := loadConfig(&cfg); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg ServeConfig) error {
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

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	// Optional event stream
	var publisher events.Publisher
	var natsClient *nats.Client
	if cfg.NATS.Enabled {
		natsClient, err = nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		if _, err := natsClient.EnsureStream(ctx, nats.DefaultStreamConfig(cfg.NATS.Stream)); err != nil {
			return err
		}
		publisher = nats.NewPublisher(natsClient, logger)
	}

	// Optional rate limiting
	var limiter middleware.RateLimiter
	if cfg.RateLimit.URL != "" {
		client, err := ratelimit.Connect(ctx, cfg.RateLimit)
		if err != nil {
			logger.Warn("rate limiting disabled", "error", err)
		} else {
			defer client.Close()
			limiter = ratelimit.NewLimiter(client, cfg.RateLimit)
		}
	}

	// Create services
	banks := bankcode.NewTranslator(bankcode.NewPostgresStore(db))
	paymentStore := payment.NewPostgresStore(db)
	tokens := token.NewPostgresStore(db)

	registry := gateway.NewRegistry(
		bibpay.New(cfg.BibPay, banks, logger),
		payonex.New(cfg.PayOneX, banks, paymentStore, gateway.NewCredentialCache(), logger),
	)

	engine := payment.NewEngine(cfg.Engine, paymentStore, registry, banks, publisher, logger)
	handler := api.NewHandler(engine, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if natsClient != nil {
			if err := natsClient.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/webhooks", handler.WebhookRoutes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TokenAuth(tokens, logger))
		if limiter != nil {
			r.Use(middleware.RateLimit(limiter, middleware.TokenKey, logger))
		}
		r.Mount("/", handler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting paygate",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"gateways", registry.Names(),
			"webhook_base", cfg.Engine.PublicBaseURL,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := engine.Drain(shutdownCtx); err != nil {
		logger.Warn("callback deliveries still in flight", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
