// Package txsupport carries the single open transaction for a command
// handler through context, generalizing the teacher's
// pkg/storage/postgres.BaseStore transaction helpers (txKey /
// TxFromContext / ContextWithTx / WithTx) so every store in this module
// shares one transaction without threading *sql.Tx through signatures.
package txsupport

import (
	"context"
	"database/sql"
)

// Querier abstracts a *sql.DB or a *sql.Tx for callers that only need to
// run statements, not manage transaction lifecycle.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// TxFromContext extracts the active transaction from ctx, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// ContextWithTx returns a context carrying tx.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// QuerierFrom returns the transaction in ctx if present, otherwise db
// itself. Every store in this module resolves its Querier this way so
// command handlers can open one transaction and have every store
// participate in it.
func QuerierFrom(ctx context.Context, db *sql.DB) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// WithTx begins a transaction at the given isolation level, runs fn with
// a context carrying it, and commits on success or rolls back on error
// or panic. A nil opts uses the driver default (READ COMMITTED on
// PostgreSQL).
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	txCtx := ContextWithTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
