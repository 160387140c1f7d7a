package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries implements Tx on top of SQLite.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Times are stored as fixed-width UTC text so that string comparison in SQL
// orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

const upsertUser = `
INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
    name  = CASE WHEN excluded.name  <> '' THEN excluded.name  ELSE users.name  END`

func (q *Queries) UpsertUser(ctx context.Context, u core.User) error {
	_, err := q.db.ExecContext(ctx, upsertUser, u.ID, u.Email, u.Name, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, name, created_at`

func scanUser(s scanner) (core.User, error) {
	var (
		u       core.User
		created string
		err     error
	)
	if err = s.Scan(&u.ID, &u.Email, &u.Name, &created); err != nil {
		return u, err
	}
	u.CreatedAt, err = parseTime(created)
	return u, err
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return u, core.NotFoundf("user %s", id)
	}
	if err != nil {
		return u, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
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

const accountColumns = `id, user_id, name, type, balance, is_default, created_at, updated_at`

func scanAccount(s scanner) (core.Account, error) {
	var (
		a                         core.Account
		balance, created, updated string
		err                       error
	)
	if err = s.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &balance, &a.IsDefault, &created, &updated); err != nil {
		return a, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return a, fmt.Errorf("parse balance: %w", err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	a.UpdatedAt, err = parseTime(updated)
	return a, err
}

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, string(a.Type), a.Balance.String(), a.IsDefault,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id, ownerID string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND user_id = ?`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, core.NotFoundf("account %s", id)
	}
	if err != nil {
		return a, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at`, ownerID)
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

func (q *Queries) GetDefaultAccount(ctx context.Context, ownerID string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND is_default = 1`, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, core.NotFoundf("default account for %s", ownerID)
	}
	if err != nil {
		return a, fmt.Errorf("get default account: %w", err)
	}
	return a, nil
}

func (q *Queries) ClearDefaultAccount(ctx context.Context, ownerID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET is_default = 0, updated_at = ? WHERE user_id = ? AND is_default = 1`,
		formatTime(time.Now()), ownerID)
	if err != nil {
		return fmt.Errorf("clear default account: %w", err)
	}
	return nil
}

func (q *Queries) MarkDefaultAccount(ctx context.Context, id, ownerID string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET is_default = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		formatTime(time.Now()), id, ownerID)
	if err != nil {
		return fmt.Errorf("mark default account: %w", err)
	}
	return expectOne(res, core.NotFoundf("account %s", id))
}

func (q *Queries) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	var current string
	err := q.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NotFoundf("account %s", accountID)
	}
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	balance, err := decimal.NewFromString(current)
	if err != nil {
		return fmt.Errorf("parse balance: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.Add(delta).String(), formatTime(time.Now()), accountID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

const transactionColumns = `id, user_id, account_id, type, amount, description, category, date, status,
    is_recurring, recurring_interval, next_recurring_date, last_processed, created_at, updated_at`

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t                      core.Transaction
		amount, date           string
		created, updated       string
		interval, next, lastPr sql.NullString
		err                    error
	)
	if err = s.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Type, &amount, &t.Description, &t.Category,
		&date, &t.Status, &t.IsRecurring, &interval, &next, &lastPr, &created, &updated); err != nil {
		return t, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("parse amount: %w", err)
	}
	if t.Date, err = parseTime(date); err != nil {
		return t, err
	}
	t.RecurringInterval = core.RecurringInterval(interval.String)
	if t.NextRecurringDate, err = parseNullTime(next); err != nil {
		return t, err
	}
	if t.LastProcessed, err = parseNullTime(lastPr); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	t.UpdatedAt, err = parseTime(updated)
	return t, err
}

func nullInterval(i core.RecurringInterval) sql.NullString {
	return sql.NullString{String: string(i), Valid: i != ""}
}

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount.String(), t.Description, t.Category,
		formatTime(t.Date), string(t.Status), t.IsRecurring, nullInterval(t.RecurringInterval),
		formatNullTime(t.NextRecurringDate), formatNullTime(t.LastProcessed),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id, ownerID string) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, ownerID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, core.NotFoundf("transaction %s", id)
	}
	if err != nil {
		return t, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE transactions SET
    account_id = ?, type = ?, amount = ?, description = ?, category = ?, date = ?, status = ?,
    is_recurring = ?, recurring_interval = ?, next_recurring_date = ?, last_processed = ?, updated_at = ?
WHERE id = ? AND user_id = ?`,
		t.AccountID, string(t.Type), t.Amount.String(), t.Description, t.Category, formatTime(t.Date),
		string(t.Status), t.IsRecurring, nullInterval(t.RecurringInterval),
		formatNullTime(t.NextRecurringDate), formatNullTime(t.LastProcessed), formatTime(t.UpdatedAt),
		t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return expectOne(res, core.NotFoundf("transaction %s", t.ID))
}

func (q *Queries) DeleteTransactions(ctx context.Context, ids []string, ownerID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE user_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return int(n), nil
}

func (q *Queries) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, formatTime(f.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return q.queryTransactions(ctx, query, args...)
}

func (q *Queries) ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	return q.queryTransactions(ctx, `
SELECT `+transactionColumns+` FROM transactions
WHERE is_recurring = 1 AND status = 'COMPLETED'
  AND (last_processed IS NULL OR next_recurring_date <= ?)
ORDER BY user_id, date`, formatTime(now))
}

func (q *Queries) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
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

const budgetColumns = `id, user_id, amount, last_alert_sent, created_at, updated_at`

func scanBudget(s scanner) (core.Budget, error) {
	var (
		b                        core.Budget
		amount, created, updated string
		lastAlert                sql.NullString
		err                      error
	)
	if err = s.Scan(&b.ID, &b.UserID, &amount, &lastAlert, &created, &updated); err != nil {
		return b, err
	}
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return b, fmt.Errorf("parse budget amount: %w", err)
	}
	if b.LastAlertSent, err = parseNullTime(lastAlert); err != nil {
		return b, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return b, err
	}
	b.UpdatedAt, err = parseTime(updated)
	return b, err
}

func (q *Queries) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	row := q.db.QueryRowContext(ctx, `
INSERT INTO budgets (`+budgetColumns+`) VALUES (?, ?, ?, NULL, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at
RETURNING `+budgetColumns,
		b.ID, b.UserID, b.Amount.String(), formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	out, err := scanBudget(row)
	if err != nil {
		return out, fmt.Errorf("upsert budget: %w", err)
	}
	return out, nil
}

func (q *Queries) GetBudget(ctx context.Context, ownerID string) (core.Budget, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE user_id = ?`, ownerID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b, core.NotFoundf("budget for %s", ownerID)
	}
	if err != nil {
		return b, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (q *Queries) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY user_id`)
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
	res, err := q.db.ExecContext(ctx, `
UPDATE budgets SET last_alert_sent = ?, updated_at = ?
WHERE id = ? AND (last_alert_sent IS NULL OR last_alert_sent < ?)`,
		formatTime(now), formatTime(now), budgetID, formatTime(monthStart))
	if err != nil {
		return false, fmt.Errorf("claim budget alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim budget alert: %w", err)
	}
	return n == 1, nil
}

func (q *Queries) RecordFailure(ctx context.Context, f core.ProcessingFailure) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO processing_failures (id, transaction_id, user_id, attempts, error, failed_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.TransactionID, f.UserID, f.Attempts, f.Error, formatTime(f.FailedAt))
	if err != nil {
		return fmt.Errorf("record processing failure: %w", err)
	}
	return nil
}

func (q *Queries) ListFailures(ctx context.Context, limit int) ([]core.ProcessingFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT id, transaction_id, user_id, attempts, error, failed_at
FROM processing_failures ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processing failures: %w", err)
	}
	defer rows.Close()

	var out []core.ProcessingFailure
	for rows.Next() {
		var (
			f        core.ProcessingFailure
			failedAt string
		)
		if err := rows.Scan(&f.ID, &f.TransactionID, &f.UserID, &f.Attempts, &f.Error, &failedAt); err != nil {
			return nil, fmt.Errorf("scan processing failure: %w", err)
		}
		if f.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
