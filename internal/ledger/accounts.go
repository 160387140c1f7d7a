package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/storage"
)

type AccountInput struct {
	Name      string
	Type      core.AccountType
	Balance   decimal.Decimal // opening balance
	IsDefault bool
}

// EnsureUser records the identity the first time it is seen. Empty email or
// name never overwrite stored values.
func (m *Manager) EnsureUser(ctx context.Context, u core.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return core.ErrUnauthorized
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertUser(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// CreateAccount adds an account. The owner's first account always becomes
// the default; a later account asking to be default demotes the current one.
func (m *Manager) CreateAccount(ctx context.Context, ownerID string, in AccountInput) (core.Account, error) {
	now := m.now()
	a := core.Account{
		ID:        m.newID(),
		UserID:    ownerID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Balance:   in.Balance.Round(core.MoneyScale),
		IsDefault: in.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}

	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		existing, err := tx.ListAccounts(ctx, ownerID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			a.IsDefault = true
		} else if a.IsDefault {
			if err := tx.ClearDefaultAccount(ctx, ownerID); err != nil {
				return err
			}
		}
		return tx.InsertAccount(ctx, a)
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// SetDefaultAccount makes id the owner's only default account.
func (m *Manager) SetDefaultAccount(ctx context.Context, id, ownerID string) (core.Account, error) {
	if ownerID == "" {
		return core.Account{}, core.ErrUnauthorized
	}
	var a core.Account
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		if a, err = tx.GetAccount(ctx, id, ownerID); err != nil {
			return err
		}
		if a.IsDefault {
			return nil
		}
		if err := tx.ClearDefaultAccount(ctx, ownerID); err != nil {
			return err
		}
		if err := tx.MarkDefaultAccount(ctx, id, ownerID); err != nil {
			return err
		}
		a.IsDefault = true
		return nil
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("set default account: %w", err)
	}
	return a, nil
}

func (m *Manager) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	if ownerID == "" {
		return nil, core.ErrUnauthorized
	}
	var accounts []core.Account
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccountWithTransactions returns the account and its transactions,
// newest first.
func (m *Manager) GetAccountWithTransactions(ctx context.Context, id, ownerID string) (core.Account, []core.Transaction, error) {
	if ownerID == "" {
		return core.Account{}, nil, core.ErrUnauthorized
	}
	var (
		a   core.Account
		txs []core.Transaction
	)
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if a, err = tx.GetAccount(ctx, id, ownerID); err != nil {
			return err
		}
		txs, err = tx.ListTransactions(ctx, storage.TransactionFilter{OwnerID: ownerID, AccountID: id})
		return err
	})
	if err != nil {
		return core.Account{}, nil, fmt.Errorf("get account: %w", err)
	}
	return a, txs, nil
}

func (m *Manager) ListUsers(ctx context.Context) ([]core.User, error) {
	var users []core.User
	err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		users, err = tx.ListUsers(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
