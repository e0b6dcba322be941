package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"breakthebill/internal/backend"
	"breakthebill/internal/cache"
	"breakthebill/internal/cli"
	apphttp "breakthebill/internal/http"
	"breakthebill/internal/log"
	"breakthebill/internal/services"
)

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		log.ForComponent(log.ComponentApp, "info").Warn("Failed to load .env file", "error", err)
	}

	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	factory := backend.NewFactory(logger.WithComponent(log.ComponentBackend))
	res, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}

	balances := cache.NewLRUCache[services.BalanceSnapshot](cfg.BalanceCacheSize, cfg.BalanceCacheTTL)
	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache))
	cacheManager.Register(balances)
	cacheManager.StartCleanup(cfg.BalanceCacheTTL)

	ledger := services.NewLedgerService(res.Repository, services.Options{
		Publisher:    res.Publisher(),
		BalanceCache: balances,
		Logger:       logger.WithComponent(log.ComponentLedger),
	})

	var ready func(context.Context) error
	if p, ok := res.Repository.(interface{ Ping(context.Context) error }); ok {
		ready = p.Ping
	}

	srv := apphttp.NewServer(":"+cfg.Port, ledger, apphttp.Options{
		RequestTimeout:     cfg.RequestTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		DefaultCurrency:    cfg.DefaultCurrency(),
		Logger:             logger.WithComponent(log.ComponentHTTP),
		Ready:              ready,
	})
	srv.MaxHeaderBytes = 1 << 16

	shutdownCtx, done := cli.GracefulShutdown(ctx, logger, 30*time.Second, func(ctx context.Context) error {
		err := srv.Shutdown(ctx)
		cacheManager.Stop()
		return errors.Join(err, res.Cleanup())
	})

	logger.Info("Starting breakthebill server",
		"port", cfg.Port,
		"backend", backendCfg.Type,
		"events", res.Events != nil,
		"default_currency", cfg.DefaultCurrency().String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	m := srv.Metrics()
	cs := balances.Stats()
	logger.Info("Server stopped gracefully",
		"requests", m.TotalRequests,
		"failed_requests", m.FailedRequests,
		"balance_cache_hits", cs.Hits,
		"balance_cache_misses", cs.Misses,
		"balance_cache_evictions", cs.Evictions)
}
