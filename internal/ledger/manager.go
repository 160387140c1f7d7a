// Package ledger applies transaction changes and their balance effects as
// single units of work.
//
// Every mutation runs inside storage.Store.WithinTx: the transaction rows and
// the balance adjustments either all commit or all roll back. Errors from
// inside a unit are returned to the caller unchanged.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/recurrence"
	"ledger/internal/storage"
)

// RecurringSuffix is appended to the description of materialized occurrences.
const RecurringSuffix = " (Recurring)"

type Manager struct {
	store storage.Store
	now   func() time.Time
	newID func() string
}

func NewManager(store storage.Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// WithClock returns a copy of m that reads the current time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	c := *m
	c.now = now
	return &c
}

// TransactionInput carries the user-editable fields of a transaction.
type TransactionInput struct {
	AccountID         string
	Type              core.TransactionType
	Amount            decimal.Decimal
	Description       string
	Category          string
	Date              time.Time
	IsRecurring       bool
	RecurringInterval core.RecurringInterval
}

func (in TransactionInput) apply(t *core.Transaction) {
	t.AccountID = in.AccountID
	t.Type = in.Type
	t.Amount = in.Amount
	t.Description = strings.TrimSpace(in.Description)
	t.Category = strings.TrimSpace(in.Category)
	t.Date = in.Date
	t.IsRecurring = in.IsRecurring
	t.RecurringInterval = in.RecurringInterval
}

// schedule sets NextRecurringDate from the transaction date, or clears it.
// A template that already produced occurrences resumes after its last run.
func schedule(t *core.Transaction) error {
	if !t.IsRecurring {
		t.RecurringInterval = ""
		t.NextRecurringDate = nil
		return nil
	}
	var (
		next time.Time
		err  error
	)
	if t.LastProcessed == nil {
		next, err = recurrence.NextDate(t.Date, t.RecurringInterval)
	} else {
		next, err = recurrence.NextAfter(t.Date, t.RecurringInterval, *t.LastProcessed)
	}
	if err != nil {
		return err
	}
	t.NextRecurringDate = &next
	return nil
}

// CreateTransaction records a transaction and applies its delta to the
// owning account.
func (m *Manager) CreateTransaction(ctx context.Context, ownerID string, in TransactionInput) (core.Transaction, error) {
	now := m.now()
	t := core.Transaction{
		ID:        m.newID(),
		UserID:    ownerID,
		Status:    core.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(&t)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := schedule(&t); err != nil {
		return core.Transaction{}, err
	}

	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetAccount(ctx, t.AccountID, ownerID); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, t.AccountID, t.SignedAmount())
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction replaces the editable fields of a transaction and
// reconciles balances. Moving a transaction to another account reverses it on
// the old account and applies it to the new one.
func (m *Manager) UpdateTransaction(ctx context.Context, id, ownerID string, in TransactionInput) (core.Transaction, error) {
	if ownerID == "" {
		return core.Transaction{}, core.ErrUnauthorized
	}
	var updated core.Transaction
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		old, err := tx.GetTransaction(ctx, id, ownerID)
		if err != nil {
			return err
		}
		updated = old
		in.apply(&updated)
		updated.UpdatedAt = m.now()
		if err := updated.Validate(); err != nil {
			return err
		}
		if err := schedule(&updated); err != nil {
			return err
		}
		if _, err := tx.GetAccount(ctx, updated.AccountID, ownerID); err != nil {
			return err
		}

		if updated.AccountID == old.AccountID {
			if diff := updated.SignedAmount().Sub(old.SignedAmount()); !diff.IsZero() {
				if err := tx.AdjustBalance(ctx, updated.AccountID, diff); err != nil {
					return err
				}
			}
		} else {
			if err := tx.AdjustBalance(ctx, old.AccountID, old.SignedAmount().Neg()); err != nil {
				return err
			}
			if err := tx.AdjustBalance(ctx, updated.AccountID, updated.SignedAmount()); err != nil {
				return err
			}
		}
		return tx.UpdateTransaction(ctx, updated)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	return updated, nil
}

// DeleteTransactions removes the given transactions and reverses their
// effect with one balance adjustment per affected account. Either every id
// is deleted or none is.
func (m *Manager) DeleteTransactions(ctx context.Context, ids []string, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, core.ErrUnauthorized
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no transaction ids", core.ErrInvalidInput)
	}

	var deleted int
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		found, err := tx.ListTransactions(ctx, storage.TransactionFilter{OwnerID: ownerID, IDs: ids})
		if err != nil {
			return err
		}
		if len(found) != len(ids) {
			return core.NotFoundf("%d of %d transactions", len(ids)-len(found), len(ids))
		}

		reversal := map[string]decimal.Decimal{}
		for _, t := range found {
			reversal[t.AccountID] = reversal[t.AccountID].Sub(t.SignedAmount())
		}
		// Fixed order keeps lock acquisition consistent across callers.
		accounts := make([]string, 0, len(reversal))
		for id := range reversal {
			accounts = append(accounts, id)
		}
		slices.Sort(accounts)
		for _, accountID := range accounts {
			if err := tx.AdjustBalance(ctx, accountID, reversal[accountID]); err != nil {
				return err
			}
		}

		deleted, err = tx.DeleteTransactions(ctx, ids, ownerID)
		if err != nil {
			return err
		}
		if deleted != len(found) {
			return fmt.Errorf("%w: deleted %d of %d transactions", core.ErrConcurrencyConflict, deleted, len(found))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return deleted, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (m *Manager) GetTransaction(ctx context.Context, id, ownerID string) (core.Transaction, error) {
	if ownerID == "" {
		return core.Transaction{}, core.ErrUnauthorized
	}
	var t core.Transaction
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		t, err = tx.GetTransaction(ctx, id, ownerID)
		return err
	})
	return t, err
}

// ListTransactions lists the owner's transactions; the filter's owner is
// always overridden.
func (m *Manager) ListTransactions(ctx context.Context, ownerID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	if ownerID == "" {
		return nil, core.ErrUnauthorized
	}
	f.OwnerID = ownerID
	var txs []core.Transaction
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		txs, err = tx.ListTransactions(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// MaterializeRecurring turns one due cycle of a recurring template into a
// concrete transaction dated now. It re-checks dueness inside the unit, so
// a template that another consumer already advanced is skipped and reported
// with created=false.
func (m *Manager) MaterializeRecurring(ctx context.Context, templateID, ownerID string, now time.Time) (core.Transaction, bool, error) {
	if ownerID == "" {
		return core.Transaction{}, false, core.ErrUnauthorized
	}
	var (
		occurrence core.Transaction
		created    bool
	)
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		tmpl, err := tx.GetTransaction(ctx, templateID, ownerID)
		if err != nil {
			return err
		}
		if tmpl.Status != core.StatusCompleted || !recurrence.IsDue(tmpl, now) {
			return nil
		}

		next, err := recurrence.NextAfter(tmpl.Date, tmpl.RecurringInterval, now)
		if err != nil {
			return err
		}

		occurrence = core.Transaction{
			ID:          m.newID(),
			UserID:      tmpl.UserID,
			AccountID:   tmpl.AccountID,
			Type:        tmpl.Type,
			Amount:      tmpl.Amount,
			Description: tmpl.Description + RecurringSuffix,
			Category:    tmpl.Category,
			Date:        now,
			Status:      core.StatusCompleted,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, occurrence); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, occurrence.AccountID, occurrence.SignedAmount()); err != nil {
			return err
		}

		processed := now
		tmpl.LastProcessed = &processed
		tmpl.NextRecurringDate = &next
		tmpl.UpdatedAt = now
		if err := tx.UpdateTransaction(ctx, tmpl); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("materialize recurring %s: %w", templateID, err)
	}
	return occurrence, created, nil
}
