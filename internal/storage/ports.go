// Package storage is the persistence gateway for users, accounts,
// transactions and budgets.
//
// Every write that must succeed or fail together runs inside WithinTx: the
// callback receives a Tx, and any error it returns rolls back all of its
// writes. View runs read-only work without opening a write unit.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// Store is implemented by the SQLite, PostgreSQL and in-memory backends.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the set of operations available inside a unit of work.
// Lookups scoped by owner return core.ErrNotFound when the record is absent
// or belongs to someone else.
type Tx interface {
	UpsertUser(ctx context.Context, u core.User) error
	GetUser(ctx context.Context, id string) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)

	InsertAccount(ctx context.Context, a core.Account) error
	GetAccount(ctx context.Context, id, ownerID string) (core.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error)
	GetDefaultAccount(ctx context.Context, ownerID string) (core.Account, error)
	ClearDefaultAccount(ctx context.Context, ownerID string) error
	MarkDefaultAccount(ctx context.Context, id, ownerID string) error
	// AdjustBalance adds delta to the account balance in place.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	InsertTransaction(ctx context.Context, t core.Transaction) error
	GetTransaction(ctx context.Context, id, ownerID string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransactions(ctx context.Context, ids []string, ownerID string) (int, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	// ListDueRecurring returns COMPLETED recurring templates that were never
	// processed or whose next date is at or before now.
	ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error)

	UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	GetBudget(ctx context.Context, ownerID string) (core.Budget, error)
	ListBudgets(ctx context.Context) ([]core.Budget, error)
	// ClaimBudgetAlert sets last_alert_sent to now only when no alert was
	// sent since monthStart. It reports whether the claim succeeded.
	ClaimBudgetAlert(ctx context.Context, budgetID string, now, monthStart time.Time) (bool, error)

	RecordFailure(ctx context.Context, f core.ProcessingFailure) error
	ListFailures(ctx context.Context, limit int) ([]core.ProcessingFailure, error)
}

// TransactionFilter narrows ListTransactions. Zero fields are ignored; the
// date range is half-open [From, To).
type TransactionFilter struct {
	OwnerID   string
	AccountID string
	IDs       []string
	Type      core.TransactionType
	From      time.Time
	To        time.Time
	Limit     int
}
