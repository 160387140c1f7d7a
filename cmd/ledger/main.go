package main

import (
	"context"
	"errors"
	"net/http"

	"ledger/internal/backend"
	"ledger/internal/cli"
	apphttp "ledger/internal/http"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/stats"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	factory := backend.NewFactory()
	bcfg := cli.BackendConfig(logger, cfg)

	store := cli.OpenStore(ctx, logger, factory, bcfg)
	defer cli.Close(logger, "store", store.Cleanup)

	insights, err := factory.NewInsights(ctx, bcfg)
	if err != nil {
		logger.Warn("Insight service unavailable, continuing without it", log.FieldError, err)
		insights = nil
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:          store.Store,
		Ledger:         ledger.NewManager(store.Store),
		Stats:          stats.NewAggregator(store.Store),
		Insights:       insights,
		TxCreateLimit:  cfg.TxCreateLimit,
		TxCreateWindow: cfg.TxCreateWindow,
		Location:       cfg.Location(),
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting ledger API", "port", cfg.Port, "backend", cfg.DataBackend, "timezone", cfg.Timezone)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		return
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
