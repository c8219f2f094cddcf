// Package db is the persistence layer: row models, the Querier interface, and
// hand-written SQL executed over database/sql with the lib/pq driver.
//
// The query methods follow a uniform shape: params struct in, row struct out,
// sql.ErrNoRows on a miss. Inserts that guard on a primary key use
// ON CONFLICT DO NOTHING with RETURNING, so a duplicate insert surfaces as
// sql.ErrNoRows rather than a driver error — callers treat that as "already
// present" (the idempotency primitive the store and webhook paths build on).
//
// schema.sql in this directory is the authoritative schema.
package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so the same query methods
// run inside or outside a transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries is the concrete Querier. Construct with New; derive a
// transaction-scoped copy with WithTx.
type Queries struct {
	db DBTX
}

// New returns a Queries bound to the given pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q whose queries run inside tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
