package main

import (
	"context"
	"errors"
	"os"
	"time"

	"breakthebill/internal/backend"
	"breakthebill/internal/cli"
	"breakthebill/internal/log"
	"breakthebill/internal/worker"
)

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		log.ForComponent(log.ComponentApp, "info").Warn("Failed to load .env file", "error", err)
	}

	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting breakthebill-worker")

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	if backendCfg.Type == backend.MemoryBackend {
		// The worker reads what the server wrote; a private memory store is always empty.
		logger.Warn("Worker is running on the memory backend and will see no groups")
	}

	ctx := context.Background()
	factory := backend.NewFactory(logger.WithComponent(log.ComponentBackend))
	res, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}
	if res.Events == nil {
		logger.Error("Worker requires a reachable AMQP broker", "amqp_configured", cfg.AMQPURL != "")
		_ = res.Cleanup()
		os.Exit(1)
	}

	exporter, err := factory.CreateExporter(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize sheets exporter", "error", err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	if backendCfg.SheetsEnabled() {
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, exporting to memory")
	}

	exportWorker := worker.NewExportWorker(res.Repository, exporter, cfg.ExportConcurrency, logger.WithComponent(log.ComponentWorker))

	appCtx, stop := context.WithCancel(ctx)
	defer stop()
	runCtx, done := cli.GracefulShutdown(appCtx, logger, 30*time.Second, func(context.Context) error {
		return res.Cleanup()
	})

	// Catch up on events missed while the worker was down.
	logger.Info("Performing startup export...")
	if err := exportWorker.StartupExport(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Failed startup export", "error", err)
	}

	if err := res.Events.ConsumeLedgerEvents(runCtx, exportWorker.HandleLedgerEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
	}
	stop()

	cli.WaitForShutdown(runCtx, done)
	logger.Info("Worker stopped")
}
