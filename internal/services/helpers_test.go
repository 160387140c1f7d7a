package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/notify"
	"ledger/internal/storage"
	"ledger/internal/storage/memory"
)

var fixedNow = time.Date(2024, 2, 16, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

type fixture struct {
	store  storage.Store
	ledger *ledger.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return &fixture{
		store:  store,
		ledger: ledger.NewManager(store).WithClock(func() time.Time { return fixedNow }),
	}
}

func (f *fixture) user(t *testing.T, id string) core.Account {
	t.Helper()
	ctx := context.Background()
	if err := f.ledger.EnsureUser(ctx, core.User{ID: id, Email: id + "@example.com", Name: id}); err != nil {
		t.Fatal(err)
	}
	acc, err := f.ledger.CreateAccount(ctx, id, ledger.AccountInput{Name: "Main", Type: core.Current, Balance: dec("1000")})
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func (f *fixture) recurring(t *testing.T, owner, accountID, amount string) core.Transaction {
	t.Helper()
	tx, err := f.ledger.CreateTransaction(context.Background(), owner, ledger.TransactionInput{
		AccountID:         accountID,
		Type:              core.Expense,
		Amount:            dec(amount),
		Description:       "Gym",
		Category:          "health",
		Date:              day(2024, 1, 15),
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func (f *fixture) expense(t *testing.T, owner, accountID, amount string, date time.Time) {
	t.Helper()
	_, err := f.ledger.CreateTransaction(context.Background(), owner, ledger.TransactionInput{
		AccountID: accountID,
		Type:      core.Expense,
		Amount:    dec(amount),
		Category:  "groceries",
		Date:      date,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) failures(t *testing.T) []core.ProcessingFailure {
	t.Helper()
	var out []core.ProcessingFailure
	err := f.store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.ListFailures(context.Background(), 0)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func accountInput(name string) ledger.AccountInput {
	return ledger.AccountInput{Name: name, Type: core.Savings}
}
