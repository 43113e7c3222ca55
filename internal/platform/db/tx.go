package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxOption tweaks the options a transaction is opened with.
type TxOption func(*pgx.TxOptions)

// ReadOnly opens the transaction in read-only mode.
func ReadOnly() TxOption {
	return func(o *pgx.TxOptions) { o.AccessMode = pgx.ReadOnly }
}

// Isolation overrides the default ReadCommitted level.
func Isolation(level pgx.TxIsoLevel) TxOption {
	return func(o *pgx.TxOptions) { o.IsoLevel = level }
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// Begin and commit failures are reported as transient; fn's own error is
// returned untouched.
func WithTx(ctx context.Context, db Beginner, fn func(pgx.Tx) error, opts ...TxOption) error {
	txOpts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	for _, opt := range opts {
		opt(&txOpts)
	}

	tx, err := db.BeginTx(ctx, txOpts)
	if err != nil {
		return shared.Transient("platform/db: begin tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return shared.Transient("platform/db: commit tx", err)
	}
	return nil
}
