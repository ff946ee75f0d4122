package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aqarfund/aqar/internal/shared"
)

// TxBeginner starts transactions; satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. Errors returned by fn are passed through unchanged.
func WithTx(ctx context.Context, pool TxBeginner, fn func(pgx.Tx) error) error {
	return WithTxLevel(ctx, pool, pgx.RepeatableRead, fn)
}

// WithTxLevel is WithTx at an explicit isolation level. ReadCommitted lets
// statements issued after a lock wait see rows committed during the wait.
func WithTxLevel(ctx context.Context, pool TxBeginner, level pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: level})
	if err != nil {
		return shared.Infra("platform/db: begin tx", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return shared.Infra("platform/db: commit tx", err)
	}

	return nil
}
