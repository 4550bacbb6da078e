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
	"github.com/nats-io/nats.go"

	"payoutnet/internal/common/database"
	"payoutnet/internal/common/middleware"
	"payoutnet/internal/events"
	"payoutnet/internal/payout"
	payoutapi "payoutnet/internal/payout/api"
	"payoutnet/internal/policy"
	"payoutnet/internal/services"
	"payoutnet/internal/storage"
	"payoutnet/internal/transport"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PAYOUT_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// memory, redis, postgres
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	// log, nats, kafka
	EventBackend string `envconfig:"EVENT_BACKEND" default:"log"`

	NATSURL      string   `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`

	Network  transport.Config
	Policy   policy.Config
	Services services.Config
	Database database.Config
	Redis    storage.Config
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

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Secure transport to the payment network
	client, err := transport.New(cfg.Network, logger)
	if err != nil {
		logger.Error("failed to build network transport", "error", err)
		os.Exit(1)
	}

	// Corridor policy
	corridors, err := policy.Load(cfg.Policy)
	if err != nil {
		logger.Error("failed to load corridor policy", "error", err)
		os.Exit(1)
	}

	// Stores
	stores, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Compensation events
	emitter, closeEmitter, err := buildEmitter(cfg, logger)
	if err != nil {
		logger.Error("failed to build event emitter", "error", err)
		os.Exit(1)
	}
	defer closeEmitter()

	// Supporting services
	recipients := services.NewRecipientService(client, stores.cache, cfg.Services.RecipientCacheTTL, logger)
	quoting := services.NewQuotingService(client, stores.cache, cfg.Services.QuoteCacheTTL, logger)
	compliance := services.NewComplianceService(client, cfg.Services.ComplianceMode, cfg.Services.ComplianceEnabled, logger)

	// Orchestrator
	orchestrator, err := payout.New(client, payout.Deps{
		Idempotency: stores.idempotency,
		Receipts:    stores.receipts,
		Events:      emitter,
		Policy:      corridors,
		Recipients:  recipients,
		Compliance:  compliance,
	}, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	// Create handlers
	handler := payoutapi.NewHandler(orchestrator, quoting, recipients, logger)

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
		if stores.db != nil {
			if err := stores.db.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
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
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", handler.Routes())
	})

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
		logger.Info("starting payout service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"store_backend", cfg.StoreBackend,
			"event_backend", cfg.EventBackend,
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

// storeSet bundles the backend-specific store implementations.
type storeSet struct {
	idempotency storage.IdempotencyStore
	receipts    storage.ReceiptStore
	cache       storage.Cache
	db          *database.DB
}

func buildStores(ctx context.Context, cfg Config, logger *slog.Logger) (*storeSet, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return &storeSet{
			idempotency: storage.NewMemoryIdempotencyStore(),
			receipts:    storage.NewMemoryReceiptStore(),
			cache:       storage.NewMemoryCache(),
		}, func() {}, nil

	case "redis":
		client := storage.NewRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("pinging redis: %w", err)
		}
		return &storeSet{
			idempotency: storage.NewRedisIdempotencyStore(client),
			receipts:    storage.NewRedisReceiptStore(client),
			cache:       storage.NewRedisCache(client),
		}, func() { _ = client.Close() }, nil

	case "postgres":
		if err := storage.MigratePostgres(cfg.Database.URL); err != nil {
			return nil, nil, err
		}
		db, err := database.New(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		return &storeSet{
			idempotency: storage.NewPostgresIdempotencyStore(db.Pool()),
			receipts:    storage.NewPostgresReceiptStore(db.Pool()),
			cache:       storage.NewMemoryCache(),
			db:          db,
		}, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildEmitter(cfg Config, logger *slog.Logger) (events.Emitter, func(), error) {
	switch cfg.EventBackend {
	case "log":
		return events.NewLogEmitter(logger), func() {}, nil

	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("payoutd"))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		return events.NewNATSEmitter(conn, logger), conn.Close, nil

	case "kafka":
		writer := events.NewKafkaWriter(cfg.KafkaBrokers)
		emitter := events.NewKafkaEmitter(writer, logger)
		return emitter, func() { _ = emitter.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown event backend %q", cfg.EventBackend)
	}
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
