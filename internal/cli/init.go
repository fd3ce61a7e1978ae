// Package cli holds the start-up steps shared by cmd/saldo, cmd/saldo-worker
// and cmd/saldoctl.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/config"
	"saldo/internal/log"
	"saldo/internal/storage"
)

// SetupLogger builds the process logger at level and installs it as the
// slog default. An unknown level falls back to info.
func SetupLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and exits on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens and migrates the database or exits.
func InitSQLite(logger *log.Logger, dbPath string) *storage.DB {
	logger = logger.WithComponent(log.ComponentStorage)
	db, err := storage.NewDB(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite database", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	if version, _, err := storage.SchemaVersion(db); err == nil {
		logger.Info("Database ready", "path", dbPath, "schema_version", version)
	}
	return db
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM, after
// cleanup has run, and a channel closed once shutdown has finished or the
// timeout has elapsed.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		cancel()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is over.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
