package services

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/storage"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due       int
	Published int
	Failed    int
}

// RecurringSweep finds due recurring templates and emits one
// transaction.recurring.process event for each.
type RecurringSweep struct {
	store     storage.Store
	publisher events.Publisher
	logger    *log.Logger
}

func NewRecurringSweep(store storage.Store, publisher events.Publisher) *RecurringSweep {
	return &RecurringSweep{
		store:     store,
		publisher: publisher,
		logger:    log.For(log.ComponentRecurring),
	}
}

// Run publishes an event per due template. A publish error is counted and the
// sweep moves on; only a failure to list templates aborts it.
func (s *RecurringSweep) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	var due []core.Transaction
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		due, err = tx.ListDueRecurring(ctx, now)
		return err
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due recurring transactions: %w", err)
	}

	res := SweepResult{Due: len(due)}
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		payload, err := events.NewRecurringProcessEvent(t.ID, t.UserID, now).ToJSON()
		if err == nil {
			err = s.publisher.Publish(ctx, events.RecurringProcess, payload)
		}
		if err != nil {
			res.Failed++
			s.logger.ErrorContext(ctx, "Failed to publish recurring event",
				log.FieldTransactionID, t.ID,
				log.FieldOwnerID, t.UserID,
				log.FieldError, err)
			continue
		}
		res.Published++
	}

	if res.Failed > 0 {
		s.logger.ErrorContext(ctx, "Recurring sweep finished with failures",
			"due", res.Due, "published", res.Published, "failed", res.Failed)
	} else {
		s.logger.InfoContext(ctx, "Recurring sweep finished",
			"due", res.Due, "published", res.Published)
	}
	return res, nil
}
