package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/notify"
	"ledger/internal/stats"
	"ledger/internal/storage"
)

// DefaultAlertThreshold is the percentage of budget that triggers an alert.
var DefaultAlertThreshold = decimal.NewFromInt(80)

// ShouldAlert reports whether a budget at percentUsed needs an alert now.
// At most one alert is sent per calendar month, judged in now's location.
func ShouldAlert(percentUsed, threshold decimal.Decimal, lastAlertSent *time.Time, now time.Time) bool {
	if percentUsed.LessThan(threshold) {
		return false
	}
	if lastAlertSent == nil {
		return true
	}
	last := lastAlertSent.In(now.Location())
	return last.Year() != now.Year() || last.Month() != now.Month()
}

// AlertResult counts what one budget sweep did.
type AlertResult struct {
	Checked int
	Alerted int
	Failed  int
}

// BudgetMonitor checks every budget against its owner's default account and
// notifies owners who crossed the threshold.
type BudgetMonitor struct {
	store     storage.Store
	stats     *stats.Aggregator
	notifier  notify.Notifier
	threshold decimal.Decimal
	logger    *log.Logger
}

func NewBudgetMonitor(store storage.Store, notifier notify.Notifier, threshold decimal.Decimal) *BudgetMonitor {
	if !threshold.IsPositive() {
		threshold = DefaultAlertThreshold
	}
	return &BudgetMonitor{
		store:     store,
		stats:     stats.NewAggregator(store),
		notifier:  notifier,
		threshold: threshold,
		logger:    log.For(log.ComponentBudget),
	}
}

// Run checks every budget. A failure on one budget is logged and counted;
// only a failure to list budgets aborts the sweep.
func (m *BudgetMonitor) Run(ctx context.Context, now time.Time) (AlertResult, error) {
	var budgets []core.Budget
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		budgets, err = tx.ListBudgets(ctx)
		return err
	})
	if err != nil {
		return AlertResult{}, fmt.Errorf("list budgets: %w", err)
	}

	var res AlertResult
	for _, b := range budgets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		alerted, err := m.check(ctx, b, now)
		if err != nil {
			res.Failed++
			m.logger.ErrorContext(ctx, "Budget check failed",
				log.FieldBudgetID, b.ID,
				log.FieldOwnerID, b.UserID,
				log.FieldError, err)
			continue
		}
		if alerted {
			res.Alerted++
		}
	}

	if res.Failed > 0 {
		m.logger.ErrorContext(ctx, "Budget sweep finished with failures",
			"checked", res.Checked, "alerted", res.Alerted, "failed", res.Failed)
	} else {
		m.logger.InfoContext(ctx, "Budget sweep finished",
			"checked", res.Checked, "alerted", res.Alerted)
	}
	return res, nil
}

func (m *BudgetMonitor) check(ctx context.Context, b core.Budget, now time.Time) (bool, error) {
	var (
		account core.Account
		user    core.User
	)
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if account, err = tx.GetDefaultAccount(ctx, b.UserID); err != nil {
			return err
		}
		user, err = tx.GetUser(ctx, b.UserID)
		return err
	})
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	st, err := m.stats.MonthlyStats(ctx, b.UserID, now, stats.WithAccount(account.ID))
	if err != nil {
		return false, err
	}
	percent := stats.PercentUsed(st.TotalExpenses, b.Amount)
	if !ShouldAlert(percent, m.threshold, b.LastAlertSent, now) {
		return false, nil
	}

	// The claim commits before the send so overlapping sweeps cannot both alert.
	var claimed bool
	err = m.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		claimed, err = tx.ClaimBudgetAlert(ctx, b.ID, now, stats.MonthStart(now))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claim budget alert: %w", err)
	}
	if !claimed {
		return false, nil
	}

	msg := notify.Message{
		To:       user.Email,
		Subject:  "Budget Alert for " + account.Name,
		Template: notify.TemplateBudgetAlert,
		Data: notify.BudgetAlertData{
			UserName:      user.Name,
			AccountName:   account.Name,
			PercentUsed:   percent.StringFixed(1),
			BudgetAmount:  b.Amount.StringFixed(2),
			TotalExpenses: st.TotalExpenses.StringFixed(2),
		},
	}
	if err := m.notifier.Send(ctx, msg); err != nil {
		return false, fmt.Errorf("send budget alert: %w", err)
	}
	m.logger.InfoContext(ctx, "Budget alert sent",
		log.FieldOwnerID, b.UserID,
		log.FieldAccountID, account.ID,
		"percent_used", percent.StringFixed(1))
	return true, nil
}
