// Package stats aggregates transactions into period totals.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/storage"
)

// MonthlyStats is the derived summary of one owner's month.
type MonthlyStats struct {
	Month         time.Time
	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal
	ByCategory    map[string]decimal.Decimal // expenses only
	Count         int
}

type CategoryTotal struct {
	Category string
	Amount   decimal.Decimal
}

// Net is income minus expenses.
func (s MonthlyStats) Net() decimal.Decimal {
	return s.TotalIncome.Sub(s.TotalExpenses)
}

// Categories returns the expense breakdown ordered by amount, largest first.
func (s MonthlyStats) Categories() []CategoryTotal {
	out := make([]CategoryTotal, 0, len(s.ByCategory))
	for c, a := range s.ByCategory {
		out = append(out, CategoryTotal{Category: c, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Amount.Cmp(out[j].Amount); cmp != 0 {
			return cmp > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Aggregate sums the given transactions. It does no date filtering.
func Aggregate(txs []core.Transaction) MonthlyStats {
	s := MonthlyStats{
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		ByCategory:    map[string]decimal.Decimal{},
	}
	for _, t := range txs {
		s.Count++
		switch t.Type {
		case core.Income:
			s.TotalIncome = s.TotalIncome.Add(t.Amount)
		case core.Expense:
			s.TotalExpenses = s.TotalExpenses.Add(t.Amount)
			s.ByCategory[t.Category] = s.ByCategory[t.Category].Add(t.Amount)
		}
	}
	return s
}

// MonthRange returns the half-open interval covering the calendar month of t
// in t's location.
func MonthRange(t time.Time) (start, end time.Time) {
	start = MonthStart(t)
	return start, start.AddDate(0, 1, 0)
}

func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// PercentUsed is spent / budget * 100, unrounded. Threshold checks compare
// this exact value; round only when formatting.
func PercentUsed(spent, budget decimal.Decimal) decimal.Decimal {
	if !budget.IsPositive() {
		return decimal.Zero
	}
	return spent.Mul(decimal.NewFromInt(100)).Div(budget)
}

type options struct {
	accountID string
}

type Option func(*options)

// WithAccount restricts aggregation to one account.
func WithAccount(accountID string) Option {
	return func(o *options) { o.accountID = accountID }
}

// Aggregator reads transactions from storage and summarizes them.
type Aggregator struct {
	store storage.Store
}

func NewAggregator(store storage.Store) *Aggregator {
	return &Aggregator{store: store}
}

func (a *Aggregator) MonthlyStats(ctx context.Context, ownerID string, month time.Time, opts ...Option) (MonthlyStats, error) {
	if ownerID == "" {
		return MonthlyStats{}, core.ErrUnauthorized
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start, end := MonthRange(month)
	var txs []core.Transaction
	err := a.store.View(ctx, func(tx storage.Tx) error {
		var err error
		txs, err = tx.ListTransactions(ctx, storage.TransactionFilter{
			OwnerID:   ownerID,
			AccountID: o.accountID,
			From:      start,
			To:        end,
		})
		return err
	})
	if err != nil {
		return MonthlyStats{}, fmt.Errorf("list month transactions: %w", err)
	}

	s := Aggregate(txs)
	s.Month = start
	return s, nil
}
