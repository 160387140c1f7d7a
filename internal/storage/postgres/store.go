// Package postgres is the PostgreSQL storage.Store backed by a pgx pool.
//
// Units of work run at SERIALIZABLE isolation and balances are changed with
// increment-style updates. Serialization failures and deadlocks surface as
// core.ErrConcurrencyConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger/internal/core"
	"ledger/internal/storage"
)

type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

var _ storage.Store = (*Store)(nil)

// Open connects the pool, verifies it and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool, queries: New(pool)}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", conflict(err))
	}
	// No-op once committed.
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return conflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", conflict(err))
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return fn(s.queries)
}

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected) {
		return fmt.Errorf("%w: %s", core.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}
