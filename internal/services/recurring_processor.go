package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/retry"
	"ledger/internal/storage"
)

// Materializer applies one due cycle of a recurring template.
type Materializer interface {
	MaterializeRecurring(ctx context.Context, templateID, ownerID string, now time.Time) (core.Transaction, bool, error)
}

// Throttle hands out per-key slots and reports how long to wait for one.
type Throttle interface {
	Reserve(key string) time.Duration
}

// RecurringProcessor consumes transaction.recurring.process events. It waits
// for a slot in the owner's throughput window, materializes the template
// under the retry policy and records a durable failure when it gives up.
type RecurringProcessor struct {
	ledger   Materializer
	store    storage.Store
	throttle Throttle
	policy   retry.Policy
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *log.Logger
}

func NewRecurringProcessor(ledger Materializer, store storage.Store, throttle Throttle, policy retry.Policy) *RecurringProcessor {
	return &RecurringProcessor{
		ledger:   ledger,
		store:    store,
		throttle: throttle,
		policy:   policy,
		now:      time.Now,
		sleep:    retry.SleepContext,
		logger:   log.For(log.ComponentRecurring),
	}
}

// WithClock replaces the time source and the throttle wait; used by tests.
func (p *RecurringProcessor) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *RecurringProcessor {
	p.now = now
	p.sleep = sleep
	return p
}

// Handle is an events.Handler. It returns an error only when the payload is
// malformed (dropped) or ctx ended before the work was done (redelivered).
func (p *RecurringProcessor) Handle(ctx context.Context, payload []byte) error {
	evt, err := events.RecurringProcessEventFromJSON(payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "Invalid recurring event", log.FieldError, err)
		p.recordFailure(ctx, "", "", 0, err)
		return err
	}
	logger := p.logger.Fields(log.NewFields().
		WithOwner(evt.UserID).
		WithOperation(log.OpMaterialize))

	if wait := p.throttle.Reserve(evt.UserID); wait > 0 {
		logger.DebugContext(ctx, "Recurring event throttled",
			log.FieldTransactionID, evt.TransactionID,
			"wait", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return fmt.Errorf("wait for throughput slot: %w", err)
		}
	}

	attempts, err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		occ, created, err := p.ledger.MaterializeRecurring(ctx, evt.TransactionID, evt.UserID, p.now())
		switch {
		case err == nil:
		case errors.Is(err, core.ErrNotFound),
			errors.Is(err, core.ErrInvalidInput),
			errors.Is(err, core.ErrUnauthorized):
			return retry.Permanent(err)
		default:
			logger.WarnContext(ctx, "Recurring materialization attempt failed",
				log.FieldTransactionID, evt.TransactionID,
				log.FieldAttempt, attempt,
				log.FieldError, err)
			return err
		}
		if created {
			logger.Fields(log.NewFields().WithTransaction(occ.ID, occ.AccountID, occ.Amount)).
				InfoContext(ctx, "Recurring transaction materialized", "template_id", evt.TransactionID)
		} else {
			logger.DebugContext(ctx, "Recurring template not due, skipped",
				log.FieldTransactionID, evt.TransactionID)
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNotFound):
		logger.WarnContext(ctx, "Recurring template no longer exists",
			log.FieldTransactionID, evt.TransactionID)
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("materialize recurring %s: %w", evt.TransactionID, ctx.Err())
	}

	logger.ErrorContext(ctx, "Recurring event abandoned",
		log.FieldTransactionID, evt.TransactionID,
		log.FieldAttempt, attempts,
		log.FieldError, err)
	p.recordFailure(ctx, evt.TransactionID, evt.UserID, attempts, err)
	return nil
}

func (p *RecurringProcessor) recordFailure(ctx context.Context, transactionID, ownerID string, attempts int, cause error) {
	f := core.ProcessingFailure{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		UserID:        ownerID,
		Attempts:      attempts,
		Error:         cause.Error(),
		FailedAt:      p.now(),
	}
	err := p.store.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.RecordFailure(ctx, f)
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to record processing failure",
			log.FieldTransactionID, transactionID,
			log.FieldError, err)
	}
}
