// Package memory provides an in-process Store used by tests and the
// demo backend.
//
// A unit of work runs against a copy of the state under a single mutex and
// replaces the live state only when the callback succeeds, so a failed unit
// leaves nothing behind.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/storage"
)

type state struct {
	users        map[string]core.User
	accounts     map[string]core.Account
	transactions map[string]core.Transaction
	budgets      map[string]core.Budget // keyed by owner
	failures     []core.ProcessingFailure
}

func newState() *state {
	return &state{
		users:        map[string]core.User{},
		accounts:     map[string]core.Account{},
		transactions: map[string]core.Transaction{},
		budgets:      map[string]core.Budget{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:        make(map[string]core.User, len(s.users)),
		accounts:     make(map[string]core.Account, len(s.accounts)),
		transactions: make(map[string]core.Transaction, len(s.transactions)),
		budgets:      make(map[string]core.Budget, len(s.budgets)),
		failures:     slices.Clone(s.failures),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View runs fn on a throwaway copy; writes made through it are discarded.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()
	return fn(&tx{st: snapshot})
}

func (s *Store) Close() error { return nil }

type tx struct {
	st *state
}

func (t *tx) UpsertUser(_ context.Context, u core.User) error {
	if existing, ok := t.st.users[u.ID]; ok {
		if u.Email == "" {
			u.Email = existing.Email
		}
		if u.Name == "" {
			u.Name = existing.Name
		}
		u.CreatedAt = existing.CreatedAt
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *tx) GetUser(_ context.Context, id string) (core.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return core.User{}, core.NotFoundf("user %s", id)
	}
	return u, nil
}

func (t *tx) ListUsers(context.Context) ([]core.User, error) {
	out := make([]core.User, 0, len(t.st.users))
	for _, u := range t.st.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) InsertAccount(_ context.Context, a core.Account) error {
	if a.IsDefault {
		for _, other := range t.st.accounts {
			if other.UserID == a.UserID && other.IsDefault {
				return core.ErrConcurrencyConflict
			}
		}
	}
	t.st.accounts[a.ID] = a
	return nil
}

func (t *tx) GetAccount(_ context.Context, id, ownerID string) (core.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok || a.UserID != ownerID {
		return core.Account{}, core.NotFoundf("account %s", id)
	}
	return a, nil
}

func (t *tx) ListAccounts(_ context.Context, ownerID string) ([]core.Account, error) {
	var out []core.Account
	for _, a := range t.st.accounts {
		if a.UserID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) GetDefaultAccount(_ context.Context, ownerID string) (core.Account, error) {
	for _, a := range t.st.accounts {
		if a.UserID == ownerID && a.IsDefault {
			return a, nil
		}
	}
	return core.Account{}, core.NotFoundf("default account for %s", ownerID)
}

func (t *tx) ClearDefaultAccount(_ context.Context, ownerID string) error {
	for id, a := range t.st.accounts {
		if a.UserID == ownerID && a.IsDefault {
			a.IsDefault = false
			a.UpdatedAt = time.Now()
			t.st.accounts[id] = a
		}
	}
	return nil
}

func (t *tx) MarkDefaultAccount(_ context.Context, id, ownerID string) error {
	a, ok := t.st.accounts[id]
	if !ok || a.UserID != ownerID {
		return core.NotFoundf("account %s", id)
	}
	a.IsDefault = true
	a.UpdatedAt = time.Now()
	t.st.accounts[id] = a
	return nil
}

func (t *tx) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return core.NotFoundf("account %s", accountID)
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = time.Now()
	t.st.accounts[accountID] = a
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, tr core.Transaction) error {
	if _, ok := t.st.accounts[tr.AccountID]; !ok {
		return core.NotFoundf("account %s", tr.AccountID)
	}
	t.st.transactions[tr.ID] = tr
	return nil
}

func (t *tx) GetTransaction(_ context.Context, id, ownerID string) (core.Transaction, error) {
	tr, ok := t.st.transactions[id]
	if !ok || tr.UserID != ownerID {
		return core.Transaction{}, core.NotFoundf("transaction %s", id)
	}
	return tr, nil
}

func (t *tx) UpdateTransaction(_ context.Context, tr core.Transaction) error {
	existing, ok := t.st.transactions[tr.ID]
	if !ok || existing.UserID != tr.UserID {
		return core.NotFoundf("transaction %s", tr.ID)
	}
	tr.CreatedAt = existing.CreatedAt
	t.st.transactions[tr.ID] = tr
	return nil
}

func (t *tx) DeleteTransactions(_ context.Context, ids []string, ownerID string) (int, error) {
	n := 0
	for _, id := range ids {
		if tr, ok := t.st.transactions[id]; ok && tr.UserID == ownerID {
			delete(t.st.transactions, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) ListTransactions(_ context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tr := range t.st.transactions {
		if matches(tr, f) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(tr core.Transaction, f storage.TransactionFilter) bool {
	switch {
	case f.OwnerID != "" && tr.UserID != f.OwnerID:
		return false
	case f.AccountID != "" && tr.AccountID != f.AccountID:
		return false
	case len(f.IDs) > 0 && !slices.Contains(f.IDs, tr.ID):
		return false
	case f.Type != "" && tr.Type != f.Type:
		return false
	case !f.From.IsZero() && tr.Date.Before(f.From):
		return false
	case !f.To.IsZero() && !tr.Date.Before(f.To):
		return false
	}
	return true
}

func (t *tx) ListDueRecurring(_ context.Context, now time.Time) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tr := range t.st.transactions {
		if !tr.IsRecurring || tr.Status != core.StatusCompleted {
			continue
		}
		if tr.LastProcessed == nil || (tr.NextRecurringDate != nil && !tr.NextRecurringDate.After(now)) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (t *tx) UpsertBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	if existing, ok := t.st.budgets[b.UserID]; ok {
		existing.Amount = b.Amount
		existing.UpdatedAt = b.UpdatedAt
		t.st.budgets[b.UserID] = existing
		return existing, nil
	}
	b.LastAlertSent = nil
	t.st.budgets[b.UserID] = b
	return b, nil
}

func (t *tx) GetBudget(_ context.Context, ownerID string) (core.Budget, error) {
	b, ok := t.st.budgets[ownerID]
	if !ok {
		return core.Budget{}, core.NotFoundf("budget for %s", ownerID)
	}
	return b, nil
}

func (t *tx) ListBudgets(context.Context) ([]core.Budget, error) {
	out := make([]core.Budget, 0, len(t.st.budgets))
	for _, b := range t.st.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *tx) ClaimBudgetAlert(_ context.Context, budgetID string, now, monthStart time.Time) (bool, error) {
	for owner, b := range t.st.budgets {
		if b.ID != budgetID {
			continue
		}
		if b.LastAlertSent != nil && !b.LastAlertSent.Before(monthStart) {
			return false, nil
		}
		sent := now
		b.LastAlertSent = &sent
		b.UpdatedAt = now
		t.st.budgets[owner] = b
		return true, nil
	}
	return false, nil
}

func (t *tx) RecordFailure(_ context.Context, f core.ProcessingFailure) error {
	t.st.failures = append(t.st.failures, f)
	return nil
}

func (t *tx) ListFailures(_ context.Context, limit int) ([]core.ProcessingFailure, error) {
	out := slices.Clone(t.st.failures)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
