package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/cli"
	apphttp "saldo/internal/http"
	"saldo/internal/ledger"
	"saldo/internal/log"
	"saldo/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger("info")
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel)

	db := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer db.Close()

	currencies := services.NewCurrencies(db, cfg.CurrencyCacheTTL, logger)
	caches := cache.NewManager(logger)
	caches.Register(currencies.Cache())
	caches.StartCleanup(cfg.CurrencyCacheTTL)

	engineOpts := []ledger.Option{ledger.WithLogger(logger)}
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, ledger notifications disabled", log.FieldError, err)
		} else {
			engineOpts = append(engineOpts, ledger.WithNotifier(amqpClient))
			logger.Info("Publishing ledger notifications", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		DB:         db,
		Users:      services.NewUsers(db, currencies, logger),
		Currencies: currencies,
		Accounts:   services.NewAccounts(db, currencies, logger),
		Categories: services.NewCategories(db, logger),
		Ledger:     ledger.NewEngine(db, engineOpts...),
	}, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting saldo server", "port", cfg.Port, "db", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
