package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/storage"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseDecimal(s, what string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return d, fmt.Errorf("parse %s: %w", what, err)
	}
	return d, nil
}

func (q *Queries) UpsertUser(ctx context.Context, u core.User) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO users (id, email, name, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
    name  = CASE WHEN excluded.name  <> '' THEN excluded.name  ELSE users.name  END`,
		u.ID, u.Email, u.Name, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, name, created_at`

func scanUser(row pgx.Row) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return u, core.NotFoundf("user %s", id)
	}
	if err != nil {
		return u, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const accountColumns = `id, user_id, name, type, balance::text, is_default, created_at, updated_at`

func scanAccount(row pgx.Row) (core.Account, error) {
	var (
		a       core.Account
		kind    string
		balance string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &kind, &balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.Type = core.AccountType(kind)
	var err error
	a.Balance, err = parseDecimal(balance, "balance")
	return a, err
}

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO accounts (id, user_id, name, type, balance, is_default, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
		a.ID, a.UserID, a.Name, string(a.Type), a.Balance.String(), a.IsDefault, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *Queries) getAccount(ctx context.Context, query string, notFound error, args ...any) (core.Account, error) {
	a, err := scanAccount(q.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, notFound
	}
	if err != nil {
		return a, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id, ownerID string) (core.Account, error) {
	return q.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2`,
		core.NotFoundf("account %s", id), id, ownerID)
}

func (q *Queries) GetDefaultAccount(ctx context.Context, ownerID string) (core.Account, error) {
	return q.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND is_default`,
		core.NotFoundf("default account for %s", ownerID), ownerID)
}

func (q *Queries) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (q *Queries) ClearDefaultAccount(ctx context.Context, ownerID string) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET is_default = FALSE, updated_at = now() WHERE user_id = $1 AND is_default`, ownerID)
	if err != nil {
		return fmt.Errorf("clear default account: %w", err)
	}
	return nil
}

func (q *Queries) MarkDefaultAccount(ctx context.Context, id, ownerID string) error {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET is_default = TRUE, updated_at = now() WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("mark default account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFoundf("account %s", id)
	}
	return nil
}

func (q *Queries) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET balance = balance + $1::numeric, updated_at = now() WHERE id = $2`,
		delta.String(), accountID)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFoundf("account %s", accountID)
	}
	return nil
}

const transactionColumns = `id, user_id, account_id, type, amount::text, description, category, date, status,
    is_recurring, recurring_interval, next_recurring_date, last_processed, created_at, updated_at`

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		t            core.Transaction
		kind, status string
		amount       string
		interval     *string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &kind, &amount, &t.Description, &t.Category, &t.Date,
		&status, &t.IsRecurring, &interval, &t.NextRecurringDate, &t.LastProcessed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.Type = core.TransactionType(kind)
	t.Status = core.TransactionStatus(status)
	if interval != nil {
		t.RecurringInterval = core.RecurringInterval(*interval)
	}
	var err error
	t.Amount, err = parseDecimal(amount, "amount")
	return t, err
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO transactions (id, user_id, account_id, type, amount, description, category, date, status,
    is_recurring, recurring_interval, next_recurring_date, last_processed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount.String(), t.Description, t.Category, t.Date,
		string(t.Status), t.IsRecurring, nullString(string(t.RecurringInterval)), t.NextRecurringDate,
		t.LastProcessed, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id, ownerID string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, core.NotFoundf("transaction %s", id)
	}
	if err != nil {
		return t, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	tag, err := q.db.Exec(ctx, `
UPDATE transactions SET
    account_id = $1, type = $2, amount = $3::numeric, description = $4, category = $5, date = $6, status = $7,
    is_recurring = $8, recurring_interval = $9, next_recurring_date = $10, last_processed = $11, updated_at = $12
WHERE id = $13 AND user_id = $14`,
		t.AccountID, string(t.Type), t.Amount.String(), t.Description, t.Category, t.Date, string(t.Status),
		t.IsRecurring, nullString(string(t.RecurringInterval)), t.NextRecurringDate, t.LastProcessed, t.UpdatedAt,
		t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFoundf("transaction %s", t.ID)
	}
	return nil
}

func (q *Queries) DeleteTransactions(ctx context.Context, ids []string, ownerID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1 AND id = ANY($2)`, ownerID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *Queries) ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != "" {
		add("user_id = $%d", f.OwnerID)
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if !f.From.IsZero() {
		add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("date < $%d", f.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return q.queryTransactions(ctx, query, args...)
}

func (q *Queries) ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	return q.queryTransactions(ctx, `
SELECT `+transactionColumns+` FROM transactions
WHERE is_recurring AND status = 'COMPLETED'
  AND (last_processed IS NULL OR next_recurring_date <= $1)
ORDER BY user_id, date`, now)
}

func (q *Queries) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

const budgetColumns = `id, user_id, amount::text, last_alert_sent, created_at, updated_at`

func scanBudget(row pgx.Row) (core.Budget, error) {
	var (
		b      core.Budget
		amount string
	)
	if err := row.Scan(&b.ID, &b.UserID, &amount, &b.LastAlertSent, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return b, err
	}
	var err error
	b.Amount, err = parseDecimal(amount, "budget amount")
	return b, err
}

func (q *Queries) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	out, err := scanBudget(q.db.QueryRow(ctx, `
INSERT INTO budgets (id, user_id, amount, created_at, updated_at) VALUES ($1, $2, $3::numeric, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
RETURNING `+budgetColumns,
		b.ID, b.UserID, b.Amount.String(), b.CreatedAt, b.UpdatedAt))
	if err != nil {
		return out, fmt.Errorf("upsert budget: %w", err)
	}
	return out, nil
}

func (q *Queries) GetBudget(ctx context.Context, ownerID string) (core.Budget, error) {
	b, err := scanBudget(q.db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE user_id = $1`, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return b, core.NotFoundf("budget for %s", ownerID)
	}
	if err != nil {
		return b, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (q *Queries) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := q.db.Query(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (q *Queries) ClaimBudgetAlert(ctx context.Context, budgetID string, now, monthStart time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE budgets SET last_alert_sent = $1, updated_at = $1
WHERE id = $2 AND (last_alert_sent IS NULL OR last_alert_sent < $3)`, now, budgetID, monthStart)
	if err != nil {
		return false, fmt.Errorf("claim budget alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) RecordFailure(ctx context.Context, f core.ProcessingFailure) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO processing_failures (id, transaction_id, user_id, attempts, error, failed_at)
VALUES ($1, $2, $3, $4, $5, $6)`, f.ID, f.TransactionID, f.UserID, f.Attempts, f.Error, f.FailedAt)
	if err != nil {
		return fmt.Errorf("record processing failure: %w", err)
	}
	return nil
}

func (q *Queries) ListFailures(ctx context.Context, limit int) ([]core.ProcessingFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, `
SELECT id, transaction_id, user_id, attempts, error, failed_at
FROM processing_failures ORDER BY failed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processing failures: %w", err)
	}
	defer rows.Close()

	var out []core.ProcessingFailure
	for rows.Next() {
		var f core.ProcessingFailure
		if err := rows.Scan(&f.ID, &f.TransactionID, &f.UserID, &f.Attempts, &f.Error, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scan processing failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
