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

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/snipebot/service/config"
	"github.com/brojonat/snipebot/service/db"
	"github.com/brojonat/snipebot/service/metrics"
	natspkg "github.com/brojonat/snipebot/service/nats"
	"github.com/brojonat/snipebot/service/solana"
	"github.com/brojonat/snipebot/service/watch"
)

// updateChanSize bounds how many in-flight updates the connector can
// buffer ahead of the pipeline before applying backpressure.
const updateChanSize = 256

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting watcher",
		"program_id", cfg.ProgramID,
		"ws_url", cfg.SolanaWSURL,
		"log_level", cfg.LogLevel,
	)

	programID, err := solanago.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Error("invalid program id", "program_id", cfg.ProgramID, "error", err)
		os.Exit(1)
	}

	commitment, err := solana.CommitmentFromString(cfg.Commitment)
	if err != nil {
		logger.Error("invalid commitment level", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database store
	store := db.NewStore(dbPool, metricsCollector)

	// The account_updates table references programs, so the watched
	// program must have a row before the pipeline can store anything.
	if err := ensureWatchedProgram(ctx, store, cfg.ProgramID, cfg.DefaultPollInterval); err != nil {
		logger.Error("failed to register watched program", "error", err)
		os.Exit(1)
	}

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9092")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize NATS publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Wire the WebSocket connector to the storage pipeline. The connector
	// pushes account updates onto the channel and the pipeline drains it.
	dialer := watch.NewDialer(cfg.SolanaWSURL, commitment)
	connector := watch.NewConnector(dialer, programID, cfg.MaxReconnectAttempts, metricsCollector, logger)
	pipeline := watch.NewPipeline(store, natsPublisher, metricsCollector, logger)

	updates := make(chan *solana.AccountUpdate, updateChanSize)

	logger.Info("watcher initialized, all dependencies ready",
		"program_id", cfg.ProgramID,
		"max_reconnect_attempts", cfg.MaxReconnectAttempts,
	)

	watcherErrors := make(chan error, 2)
	go func() {
		defer close(updates)
		watcherErrors <- connector.Run(ctx, updates)
	}()
	go func() {
		watcherErrors <- pipeline.Run(ctx, updates)
	}()

	// Wait for shutdown signal or watcher error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-watcherErrors:
		if err != nil && err != context.Canceled {
			logger.Error("watcher error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Cancel the run context and let the connector and pipeline drain
		cancel()
		<-watcherErrors

		logger.Info("watcher shutdown complete")
	}
}

// ensureWatchedProgram registers the configured program if no row
// exists for it yet. A program already registered through the API is
// left untouched so its label, poll interval, and status survive
// watcher restarts.
func ensureWatchedProgram(ctx context.Context, store *db.Store, programID string, pollInterval time.Duration) error {
	exists, err := store.ProgramExists(ctx, programID)
	if err != nil {
		return fmt.Errorf("failed to check program registration: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := store.CreateProgram(ctx, db.CreateProgramParams{
		ProgramID:    programID,
		PollInterval: pollInterval,
	}); err != nil {
		return fmt.Errorf("failed to create program row: %w", err)
	}
	return nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
