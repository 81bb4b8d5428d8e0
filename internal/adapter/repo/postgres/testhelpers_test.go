package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed list of scan funcs.
type rowsStub struct {
	rows []func(dest ...any) error
	i    int
	err  error
}

func (r *rowsStub) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *rowsStub) Scan(dest ...any) error { return r.rows[r.i-1](dest...) }
func (r *rowsStub) Err() error             { return r.err }
func (r *rowsStub) Close()                 {}

func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                       { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }

// poolStub implements postgres.PgxPool for tests.
type poolStub struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      rowStub
	rows     *rowsStub
	queryErr error

	lastSQL  string
	lastArgs []any
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.lastSQL = sql
	p.lastArgs = args
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.lastSQL = sql
	p.lastArgs = args
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.lastSQL = sql
	p.lastArgs = args
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}
