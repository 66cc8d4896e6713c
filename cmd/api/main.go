// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
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
	"github.com/adiadia/approval-workflow/internal/repository/memory"
	"github.com/adiadia/approval-workflow/internal/templates"
	httptransport "github.com/adiadia/approval-workflow/internal/transport/http"
	"github.com/adiadia/approval-workflow/internal/worker"
	"github.com/adiadia/approval-workflow/internal/workflow"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type stores struct {
	templates workflow.TemplateStore
	instances workflow.InstanceStore
	events    workflow.EventStore
	readiness httptransport.HealthChecker
	close     func()
}

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

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store setup failed: %v", err)
	}
	defer st.close()

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
		logger.Info("webhook delivery enabled", "url", cfg.WebhookURL)
	}

	engine := workflow.NewEngine(workflow.Deps{
		Templates: st.templates,
		Instances: st.instances,
		Events:    st.events,
		Publisher: bus,
		Logger:    logger,
	})

	if cfg.TemplatesFile != "" {
		if err := seedTemplates(ctx, engine, cfg.TemplatesFile, logger); err != nil {
			log.Fatalf("template catalog failed: %v", err)
		}
	}

	// A separate worker process cannot see in-memory state, so sweep here.
	if cfg.StoreDriver == config.StoreDriverMemory {
		sweeper := worker.New(worker.Deps{
			Engine:    engine,
			Logger:    logger,
			BatchSize: cfg.OverdueBatchSize,
			Interval:  cfg.OverdueScanInterval,
		})
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("overdue sweeper stopped", "error", err)
			}
		}()
	}

	handler := httptransport.NewRouter(httptransport.Deps{
		Templates:  engine,
		Instances:  engine,
		Events:     engine,
		Readiness:  st.readiness,
		Logger:     logger,
		AdminToken: cfg.AdminToken,
		Version:    Version,
		Commit:     Commit,
		BuildDate:  BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"store", cfg.StoreDriver,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, state is lost on restart")
		mem := memory.NewStore()
		return stores{
			templates: mem,
			instances: mem,
			events:    mem,
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		return stores{}, err
	}

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return stores{}, err
		}
	}

	return stores{
		templates: repository.NewTemplateRepository(pool, logger),
		instances: repository.NewInstanceRepository(pool, logger),
		events:    repository.NewEventRepository(pool, logger),
		readiness: postgres.NewSchemaHealthChecker(pool),
		close:     pool.Close,
	}, nil
}

func seedTemplates(ctx context.Context, engine *workflow.Engine, path string, logger *slog.Logger) error {
	tmpls, err := templates.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("template catalog not found, skipping seed", "path", path)
			return nil
		}
		return err
	}

	created, err := templates.Seed(ctx, engine, tmpls, logger)
	if err != nil {
		return err
	}

	logger.Info("template catalog loaded", "path", path, "templates", len(tmpls), "created", created)
	return nil
}
