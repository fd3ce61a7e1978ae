package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/cli"
	"saldo/internal/ledger"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger("info")
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)

	logger.Info("Starting saldo-worker", "audit_interval", cfg.AuditInterval, "workers", cfg.AuditWorkers)

	db := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer db.Close()

	currencies := services.NewCurrencies(db, cfg.CurrencyCacheTTL, logger)
	users := services.NewUsers(db, currencies, logger)
	engine := ledger.NewEngine(db, ledger.WithLogger(logger))
	auditor := worker.NewAuditor(engine, users, cfg.AuditWorkers, logger)

	var wg sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Waiting for worker goroutines")
		wg.Wait()
	})

	if cfg.AMQPEnabled() {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client, relying on periodic audit", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := amqpClient.ConsumeLedgerEvents(ctx, auditor.HandleLedgerEvent)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Message consumption failed", log.FieldError, err)
				}
			}()
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, running periodic audit only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		auditor.Run(ctx, cfg.AuditInterval)
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
