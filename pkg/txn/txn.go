// Package txn binds every inbound request to exactly one database
// transaction on one dedicated pooled connection.
//
// The Manager acquires a connection, issues BEGIN before any handler code
// runs, and guarantees exactly one of COMMIT or ROLLBACK followed by exactly
// one connection release, on every exit path: handler success, returned
// error, error status, panic and client disconnect.
//
// Stores never hold a transaction themselves. They ask the context for the
// request transaction with QuerierFrom and fall back to the pool when none
// is bound:
//
//	func (s *Store) Get(ctx context.Context, id string) (*Thing, error) {
//		row := txn.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, id)
//		...
//	}
package txn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/contextkeys"
	"github.com/platinummonkey/setlist/pkg/observability"
)

// Querier is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is an open transaction
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// Conn is one exclusive connection taken from the pool
type Conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	// Close returns the connection to the pool
	Close() error
}

// Pool hands out exclusive connections. Implementations must be safe for
// concurrent use.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
}

// SQLPool adapts a *sql.DB to Pool
type SQLPool struct {
	db *sql.DB
}

// NewSQLPool creates a Pool backed by database/sql
func NewSQLPool(db *sql.DB) *SQLPool {
	return &SQLPool{db: db}
}

// Acquire reserves one connection for the caller
func (p *SQLPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: conn}, nil
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}

// FromContext returns the transaction bound to ctx, or nil
func FromContext(ctx context.Context) Tx {
	if s, ok := ctx.Value(contextkeys.TxKey).(*Scope); ok && s != nil {
		return s.tx
	}
	return nil
}

// ScopeFromContext returns the request scope bound to ctx, or nil
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(contextkeys.TxKey).(*Scope)
	return s
}

// QuerierFrom returns the bound transaction, or fallback when ctx carries none
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return fallback
}

// MarkFailed forces the request transaction to roll back even if the
// handler goes on to write a success response
func MarkFailed(ctx context.Context, err error) {
	if s := ScopeFromContext(ctx); s != nil {
		s.MarkFailed(err)
	}
}

// Detach returns a context that carries no transaction and ignores the
// parent's cancellation. Best-effort side channels (audit, mirroring) use it
// so their writes neither join nor poison the request transaction.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), contextkeys.TxKey, (*Scope)(nil))
}

// Beginner starts transactions on a pool; satisfied by *sql.DB
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// RunInTx runs fn inside the transaction already bound to ctx. When none is
// bound it begins one on db, binds it for fn, and commits on success or rolls
// back on error or panic.
func RunInTx(ctx context.Context, db Beginner, fn func(ctx context.Context) error) (err error) {
	if FromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Internal("txn.RunInTx", fmt.Errorf("failed to begin transaction: %w", err))
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	scope := &Scope{tx: tx}
	if err := fn(context.WithValue(ctx, contextkeys.TxKey, scope)); err != nil {
		return err
	}

	scope.finalized.Store(true)
	if err := tx.Commit(); err != nil {
		committed = true
		scope.dropAfterCommit()
		return apperrors.Internal("txn.RunInTx", fmt.Errorf("failed to commit transaction: %w", err))
	}
	committed = true
	scope.runAfterCommit(observability.NopLogger())
	return nil
}

// AfterCommit runs fn once the transaction bound to ctx has committed, and
// never if it rolls back. Without a bound transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if s := ScopeFromContext(ctx); s != nil {
		s.OnCommit(fn)
		return
	}
	fn()
}
