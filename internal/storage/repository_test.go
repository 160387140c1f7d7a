package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo *SQLiteRepository, id, owner string, isDefault bool) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertAccount(context.Background(), core.Account{
			ID: id, UserID: owner, Name: id, Type: core.Current,
			Balance: decimal.RequireFromString("100.00"), IsDefault: isDefault,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestSQLiteAdjustBalance(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedAccount(t, repo, "a1", "u1", true)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		return tx.AdjustBalance(ctx, "a1", decimal.RequireFromString("-30.10"))
	})
	if err != nil {
		t.Fatalf("adjust balance: %v", err)
	}

	var acc core.Account
	_ = repo.View(ctx, func(tx Tx) error {
		acc, err = tx.GetAccount(ctx, "a1", "u1")
		return err
	})
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acc.Balance.Equal(decimal.RequireFromString("69.90")) {
		t.Errorf("balance = %s, want 69.90", acc.Balance)
	}
}

func TestSQLiteConcurrentReadModifyWrite(t *testing.T) {
	const workers = 30
	ctx := context.Background()
	repo := newTestRepo(t)
	seedAccount(t, repo, "a1", "u1", true)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithinTx(ctx, func(tx Tx) error {
				// Read first so two units would deadlock on upgrade without
				// an immediate write lock.
				if _, err := tx.GetAccount(ctx, "a1", "u1"); err != nil {
					return err
				}
				return tx.AdjustBalance(ctx, "a1", decimal.RequireFromString("-2.00"))
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unit failed: %v", err)
	}

	var got core.Account
	err := repo.View(ctx, func(tx Tx) error {
		var err error
		got, err = tx.GetAccount(ctx, "a1", "u1")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("balance = %s, want 40.00", got.Balance)
	}
}

func TestSQLiteWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedAccount(t, repo, "a1", "u1", true)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(tx Tx) error {
		if err := tx.AdjustBalance(ctx, "a1", decimal.NewFromInt(-50)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	_ = repo.View(ctx, func(tx Tx) error {
		acc, err := tx.GetAccount(ctx, "a1", "u1")
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if !acc.Balance.Equal(decimal.NewFromInt(100)) {
			t.Errorf("balance after rollback = %s, want 100", acc.Balance)
		}
		return nil
	})
}

func TestSQLiteOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedAccount(t, repo, "a1", "u1", true)

	err := repo.View(ctx, func(tx Tx) error {
		_, err := tx.GetAccount(ctx, "a1", "someone-else")
		return err
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign account, got %v", err)
	}
}

func TestSQLiteSingleDefaultPerOwner(t *testing.T) {
	repo := newTestRepo(t)
	seedAccount(t, repo, "a1", "u1", true)

	now := time.Now()
	err := repo.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertAccount(context.Background(), core.Account{
			ID: "a2", UserID: "u1", Name: "second", Type: core.Savings, IsDefault: true,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err == nil {
		t.Fatal("expected unique default violation")
	}
}

func TestSQLiteTransactionsAndDueQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedAccount(t, repo, "a1", "u1", true)

	jan15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb15 := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	mar15 := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	txs := []core.Transaction{
		{ID: "never", IsRecurring: true, RecurringInterval: core.Monthly, NextRecurringDate: &feb15},
		{ID: "due", IsRecurring: true, RecurringInterval: core.Monthly, NextRecurringDate: &feb15, LastProcessed: &jan15},
		{ID: "later", IsRecurring: true, RecurringInterval: core.Monthly, NextRecurringDate: &mar15, LastProcessed: &feb15},
		{ID: "plain"},
	}
	err := repo.WithinTx(ctx, func(tx Tx) error {
		for _, tr := range txs {
			tr.UserID, tr.AccountID = "u1", "a1"
			tr.Type, tr.Category, tr.Status = core.Expense, "rent", core.StatusCompleted
			tr.Amount = decimal.NewFromInt(20)
			tr.Date, tr.CreatedAt, tr.UpdatedAt = jan15, jan15, jan15
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert transactions: %v", err)
	}

	var due []core.Transaction
	err = repo.View(ctx, func(tx Tx) error {
		due, err = tx.ListDueRecurring(ctx, time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC))
		return err
	})
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	got := map[string]bool{}
	for _, tr := range due {
		got[tr.ID] = true
	}
	if len(due) != 2 || !got["never"] || !got["due"] {
		t.Errorf("due = %v, want never and due", got)
	}

	var inRange []core.Transaction
	err = repo.View(ctx, func(tx Tx) error {
		inRange, err = tx.ListTransactions(ctx, TransactionFilter{
			OwnerID: "u1",
			From:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			To:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		})
		return err
	})
	if err != nil || len(inRange) != 4 {
		t.Fatalf("expected 4 transactions in January, got %d (err=%v)", len(inRange), err)
	}

	var deleted int
	err = repo.WithinTx(ctx, func(tx Tx) error {
		deleted, err = tx.DeleteTransactions(ctx, []string{"plain", "later", "missing"}, "u1")
		return err
	})
	if err != nil || deleted != 2 {
		t.Fatalf("deleted = %d (err=%v), want 2", deleted, err)
	}
}

func TestSQLiteClaimBudgetAlert(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var budget core.Budget
	err := repo.WithinTx(ctx, func(tx Tx) error {
		var err error
		budget, err = tx.UpsertBudget(ctx, core.Budget{
			ID: "b1", UserID: "u1", Amount: decimal.NewFromInt(500), CreatedAt: created, UpdatedAt: created,
		})
		return err
	})
	if err != nil {
		t.Fatalf("upsert budget: %v", err)
	}

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	monthStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	claim := func() bool {
		var ok bool
		err := repo.WithinTx(ctx, func(tx Tx) error {
			var err error
			ok, err = tx.ClaimBudgetAlert(ctx, budget.ID, now, monthStart)
			return err
		})
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		return ok
	}

	if !claim() {
		t.Fatal("first claim of the month should succeed")
	}
	if claim() {
		t.Fatal("second claim in the same month should fail")
	}

	// Upsert keeps the alert marker and the original id.
	err = repo.WithinTx(ctx, func(tx Tx) error {
		var err error
		budget, err = tx.UpsertBudget(ctx, core.Budget{
			ID: "ignored", UserID: "u1", Amount: decimal.NewFromInt(800), CreatedAt: now, UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		t.Fatalf("re-upsert budget: %v", err)
	}
	if budget.ID != "b1" || budget.LastAlertSent == nil || !budget.Amount.Equal(decimal.NewFromInt(800)) {
		t.Errorf("unexpected budget after upsert: %+v", budget)
	}
}
