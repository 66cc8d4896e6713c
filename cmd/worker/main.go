// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/approval-workflow/internal/config"
	"github.com/adiadia/approval-workflow/internal/logging"
	"github.com/adiadia/approval-workflow/internal/notify"
	"github.com/adiadia/approval-workflow/internal/persistence/postgres"
	"github.com/adiadia/approval-workflow/internal/repository"
	"github.com/adiadia/approval-workflow/internal/worker"
	"github.com/adiadia/approval-workflow/internal/workflow"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Fatalf("worker needs STORE_DRIVER=%s; the api sweeps in-process for the memory store", config.StoreDriverPostgres)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	bus := notify.NewBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("close lifecycle bus", "error", err)
		}
	}()

	if cfg.WebhookURL != "" {
		dispatcher := notify.NewWebhookDispatcher(
			cfg.WebhookURL,
			cfg.WebhookSecret,
			&http.Client{Timeout: 10 * time.Second},
			logger,
		)
		go func() {
			if err := bus.Consume(ctx, dispatcher.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webhook consumer stopped", "error", err)
			}
		}()
	}

	engine := workflow.NewEngine(workflow.Deps{
		Templates: repository.NewTemplateRepository(pool, logger),
		Instances: repository.NewInstanceRepository(pool, logger),
		Events:    repository.NewEventRepository(pool, logger),
		Publisher: bus,
		Logger:    logger,
	})

	w := worker.New(worker.Deps{
		Engine:    engine,
		Logger:    logger,
		BatchSize: cfg.OverdueBatchSize,
		Interval:  cfg.OverdueScanInterval,
	})

	if cfg.WorkerAdminAddr != "" {
		admin := &http.Server{
			Addr:              cfg.WorkerAdminAddr,
			Handler:           worker.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("worker admin listening", "addr", cfg.WorkerAdminAddr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker admin server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				logger.Error("worker admin shutdown error", "error", err)
			}
		}()
	}

	logger.Info("worker started",
		"interval", cfg.OverdueScanInterval,
		"batch_size", cfg.OverdueBatchSize,
	)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
