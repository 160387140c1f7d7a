package ledger

import (
	"context"
	"errors"
	"testing"

	"ledger/internal/core"
	"ledger/internal/storage/memory"
)

func defaults(t *testing.T, m *Manager, owner string) []string {
	t.Helper()
	accounts, err := m.ListAccounts(context.Background(), owner)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	var out []string
	for _, a := range accounts {
		if a.IsDefault {
			out = append(out, a.Name)
		}
	}
	return out
}

func TestAccountDefaults(t *testing.T) {
	ctx := context.Background()
	m := newManager(memory.New())

	first := mustAccount(t, m, "u1", "First", "0")
	if !first.IsDefault {
		t.Fatal("first account should become default")
	}
	mustAccount(t, m, "u1", "Second", "0")
	if got := defaults(t, m, "u1"); len(got) != 1 || got[0] != "First" {
		t.Fatalf("defaults = %v, want [First]", got)
	}

	third, err := m.CreateAccount(ctx, "u1", AccountInput{Name: "Third", Type: core.Savings, IsDefault: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := defaults(t, m, "u1"); len(got) != 1 || got[0] != "Third" {
		t.Fatalf("defaults = %v, want [Third]", got)
	}

	if _, err := m.SetDefaultAccount(ctx, first.ID, "u1"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if got := defaults(t, m, "u1"); len(got) != 1 || got[0] != "First" {
		t.Fatalf("defaults = %v, want [First]", got)
	}

	if _, err := m.SetDefaultAccount(ctx, third.ID, "u2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign default switch: got %v", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	m := newManager(memory.New())
	if _, err := m.CreateAccount(context.Background(), "u1", AccountInput{Name: " ", Type: core.Current}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("blank name: got %v", err)
	}
	if _, err := m.CreateAccount(context.Background(), "", AccountInput{Name: "x", Type: core.Current}); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("no owner: got %v", err)
	}
}

func TestEnsureUserKeepsKnownFields(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newManager(store)

	if err := m.EnsureUser(ctx, core.User{ID: "u1", Email: "a@example.com", Name: "Ann"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := m.EnsureUser(ctx, core.User{ID: "u1"}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	users, err := NewManager(store).ListUsers(ctx)
	if err != nil || len(users) != 1 || users[0].Email != "a@example.com" {
		t.Fatalf("users = %+v (err=%v)", users, err)
	}
}
