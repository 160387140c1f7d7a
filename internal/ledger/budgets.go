package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/stats"
	"ledger/internal/storage"
)

// BudgetStatus is the owner's budget with the month's expenses on one account.
// Budget is nil when none has been set.
type BudgetStatus struct {
	Budget          *core.Budget
	CurrentExpenses decimal.Decimal
	PercentUsed     decimal.Decimal // unrounded
}

// UpsertBudget creates or overwrites the owner's single budget.
func (m *Manager) UpsertBudget(ctx context.Context, ownerID string, amount decimal.Decimal) (core.Budget, error) {
	now := m.now()
	b := core.Budget{
		ID:        m.newID(),
		UserID:    ownerID,
		Amount:    amount.Round(core.MoneyScale),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	var out core.Budget
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.UpsertBudget(ctx, b)
		return err
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}
	return out, nil
}

// CurrentBudget reports the budget and this month's expenses on accountID.
func (m *Manager) CurrentBudget(ctx context.Context, ownerID, accountID string, now time.Time) (BudgetStatus, error) {
	if ownerID == "" {
		return BudgetStatus{}, core.ErrUnauthorized
	}
	start, end := stats.MonthRange(now)
	status := BudgetStatus{CurrentExpenses: decimal.Zero, PercentUsed: decimal.Zero}

	err := m.store.View(ctx, func(tx storage.Tx) error {
		b, err := tx.GetBudget(ctx, ownerID)
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return err
		default:
			status.Budget = &b
		}
		if _, err := tx.GetAccount(ctx, accountID, ownerID); err != nil {
			return err
		}
		txs, err := tx.ListTransactions(ctx, storage.TransactionFilter{
			OwnerID:   ownerID,
			AccountID: accountID,
			Type:      core.Expense,
			From:      start,
			To:        end,
		})
		if err != nil {
			return err
		}
		status.CurrentExpenses = stats.Aggregate(txs).TotalExpenses
		return nil
	})
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("current budget: %w", err)
	}
	if status.Budget != nil {
		status.PercentUsed = stats.PercentUsed(status.CurrentExpenses, status.Budget.Amount)
	}
	return status, nil
}
