package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/backend"
	"ledger/internal/cli"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/worker"
)

const (
	jobRecurring     = "recurring_sweep"
	jobBudgetAlerts  = "budget_alerts"
	jobMonthlyReport = "monthly_report"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentScheduler)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	factory := backend.NewFactory()
	bcfg := cli.BackendConfig(logger, cfg)

	store := cli.OpenStore(ctx, logger, factory, bcfg)
	defer cli.Close(logger, "store", store.Cleanup)

	dispatcher, err := factory.OpenDispatcher(bcfg)
	if err != nil {
		cli.Exit(logger, "Failed to open event dispatcher", err)
	}
	defer cli.Close(logger, "dispatcher", dispatcher.Close)

	notifier, err := factory.NewNotifier(bcfg)
	if err != nil {
		cli.Exit(logger, "Failed to initialize notifier", err)
	}
	insights, err := factory.NewInsights(ctx, bcfg)
	if err != nil {
		logger.Warn("Insight service unavailable, reports use default insights", log.FieldError, err)
		insights = nil
	}
	reportWriter, err := factory.NewReportWriter(ctx, bcfg)
	if err != nil {
		logger.Warn("Report export unavailable, continuing without it", log.FieldError, err)
		reportWriter = nil
	}

	mgr := ledger.NewManager(store.Store)
	sweep := services.NewRecurringSweep(store.Store, dispatcher)
	monitor := services.NewBudgetMonitor(store.Store, notifier, cfg.BudgetAlertThreshold)
	reports := services.NewReportGenerator(store.Store, insights, notifier, reportWriter)

	scheduler := services.NewScheduler(cfg.Location())
	jobs := []struct {
		name, spec string
		fn         services.JobFunc
	}{
		{jobRecurring, cfg.RecurringSchedule, func(ctx context.Context, now time.Time) error {
			_, err := sweep.Run(ctx, now)
			return err
		}},
		{jobBudgetAlerts, cfg.BudgetAlertSchedule, func(ctx context.Context, now time.Time) error {
			_, err := monitor.Run(ctx, now)
			return err
		}},
		{jobMonthlyReport, cfg.MonthlyReportSchedule, func(ctx context.Context, now time.Time) error {
			_, err := reports.Run(ctx, now)
			return err
		}},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.name, j.spec, j.fn); err != nil {
			cli.Exit(logger, "Failed to schedule job", err)
		}
	}

	runCtx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, nil)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("Scheduler stop error", log.FieldError, err)
		}
		return nil
	})

	if cfg.AMQPURL == "" {
		// Without a broker the in-process queue only reaches consumers in
		// this process, so the scheduler runs one itself.
		processor, throttle := cli.NewRecurringProcessor(cfg, store.Store, mgr)
		defer throttle.Stop()
		consumer := worker.NewRecurringWorker(dispatcher, processor.Handle, sweep)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
		logger.Info("AMQP disabled, consuming recurring events in process")
	}

	logger.Info("Starting ledger scheduler",
		"recurring", cfg.RecurringSchedule,
		"budget_alerts", cfg.BudgetAlertSchedule,
		"monthly_report", cfg.MonthlyReportSchedule,
		"timezone", cfg.Timezone)

	if err := g.Wait(); err != nil {
		logger.Error("Scheduler exited with error", log.FieldError, err)
	}
	cli.WaitForShutdown(runCtx, done)
	logger.Info("Scheduler stopped")
}
