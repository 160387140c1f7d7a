package main

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"ledger/internal/backend"
	"ledger/internal/cli"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/worker"
)

var errAMQPRequired = errors.New("ledger-worker consumes from RabbitMQ; run ledger-scheduler for in-process processing")

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.AMQPURL == "" {
		cli.Exit(logger, "AMQP_URL is required for ledger-worker", errAMQPRequired)
	}

	ctx := context.Background()
	factory := backend.NewFactory()
	bcfg := cli.BackendConfig(logger, cfg)

	store := cli.OpenStore(ctx, logger, factory, bcfg)
	defer cli.Close(logger, "store", store.Cleanup)

	dispatcher, err := factory.OpenDispatcher(bcfg)
	if err != nil {
		cli.Exit(logger, "Failed to initialize AMQP client", err)
	}
	defer cli.Close(logger, "dispatcher", dispatcher.Close)

	mgr := ledger.NewManager(store.Store)
	processor, throttle := cli.NewRecurringProcessor(cfg, store.Store, mgr)
	defer throttle.Stop()

	consumer := worker.NewRecurringWorker(dispatcher, processor.Handle, services.NewRecurringSweep(store.Store, dispatcher))

	runCtx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, nil)

	logger.Info("Starting ledger worker",
		"exchange", cfg.AMQPExchange,
		"throttle_limit", cfg.RecurringThrottleLimit,
		"throttle_window", cfg.RecurringThrottleWindow,
		"retry_attempts", cfg.RetryMaxAttempts)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Worker exited with error", log.FieldError, err)
	}
	cli.WaitForShutdown(runCtx, done)
	logger.Info("Worker stopped")
}
