package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is the "can run a query" surface shared by *sql.DB, *sql.Conn and
// *sql.Tx. Repositories only ever see a Querier.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provider hands out either a single pooled connection or an open
// transaction per logical operation.
type Provider struct {
	db *sql.DB
}

func NewProvider(db *sql.DB) *Provider {
	return &Provider{db: db}
}

func (p *Provider) DB() *sql.DB {
	return p.db
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Conn is a checked-out pool connection for read-only work. Close returns it
// to the pool.
type Conn struct {
	*Repo
	conn *sql.Conn
}

func (p *Provider) Conn(ctx context.Context) (*Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Conn{Repo: New(conn), conn: conn}, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Tx is an open transaction. A Tx that is closed without Commit rolls back,
// so callers defer Close right after Begin.
type Tx struct {
	*Repo
	tx   *sql.Tx
	done bool
}

func (p *Provider) Begin(ctx context.Context) (*Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Repo: New(tx), tx: tx}, nil
}

func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// Close rolls back unless the transaction already finished.
func (t *Tx) Close() {
	if t.done {
		return
	}
	_ = t.Rollback()
}

// WithTx runs fn inside a transaction and commits only when fn returns nil.
// Errors and panics leave the transaction rolled back.
func (p *Provider) WithTx(ctx context.Context, fn func(*Repo) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := fn(tx.Repo); err != nil {
		return err
	}
	return tx.Commit()
}

// WithConn runs fn on a single pooled connection and releases it afterwards.
func (p *Provider) WithConn(ctx context.Context, fn func(*Repo) error) error {
	conn, err := p.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(conn.Repo)
}

// Repo runs typed queries against whatever Querier it was built with.
type Repo struct {
	q Querier
}

func New(q Querier) *Repo {
	return &Repo{q: q}
}

type scanner interface {
	Scan(dest ...any) error
}
