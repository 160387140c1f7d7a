// Package worker runs the recurring-transaction consumer against an event
// dispatcher.
package worker

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/services"
)

// Sweeper is run once at startup to recover events missed while no consumer
// was listening.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (services.SweepResult, error)
}

type RecurringWorker struct {
	dispatcher events.Dispatcher
	handler    events.Handler
	sweep      Sweeper
	logger     *log.Logger
}

// NewRecurringWorker builds a worker; sweep may be nil to skip the startup
// check.
func NewRecurringWorker(dispatcher events.Dispatcher, handler events.Handler, sweep Sweeper) *RecurringWorker {
	return &RecurringWorker{
		dispatcher: dispatcher,
		handler:    handler,
		sweep:      sweep,
		logger:     log.For(log.ComponentWorker),
	}
}

// StartupCheck publishes events for templates that came due while the worker
// was down.
func (w *RecurringWorker) StartupCheck(ctx context.Context) error {
	if w.sweep == nil {
		return nil
	}
	res, err := w.sweep.Run(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("startup recurring sweep: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup recurring check completed",
		"due", res.Due,
		"published", res.Published,
		"failed", res.Failed)
	return nil
}

// Run consumes transaction.recurring.process events until ctx is cancelled.
func (w *RecurringWorker) Run(ctx context.Context) error {
	if err := w.StartupCheck(ctx); err != nil {
		w.logger.WarnContext(ctx, "Startup check failed", log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Recurring worker consuming", log.FieldEvent, events.RecurringProcess)
	err := w.dispatcher.Subscribe(ctx, events.RecurringProcess, w.handler)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consume %s: %w", events.RecurringProcess, err)
	}
	w.logger.InfoContext(ctx, "Recurring worker stopped")
	return nil
}
