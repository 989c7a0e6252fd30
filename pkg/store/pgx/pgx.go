// Package pgx implements store.EFVStorage on PostgreSQL through pgx.
package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OFFIS-RIT/compass/backend/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// PGStorage implements store.EFVStorage against the schema in
// migrations/postgres. It accepts a pool, a single connection or an open
// transaction.
type PGStorage struct {
	conn  pgxIConn
	close func()
}

var _ store.EFVStorage = (*PGStorage)(nil)

type PGStorageOption func(*PGStorage)

// WithCloser registers fn to run on Close, e.g. releasing a pool the storage
// was handed.
func WithCloser(fn func()) PGStorageOption {
	return func(s *PGStorage) {
		s.close = fn
	}
}

// NewPGStorageWithConnection wraps an existing connection. The caller keeps
// ownership of conn unless WithCloser says otherwise.
func NewPGStorageWithConnection(conn pgxIConn, opts ...PGStorageOption) *PGStorage {
	s := &PGStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Connect opens a pool for url and returns a storage that owns it.
func Connect(ctx context.Context, url string) (*PGStorage, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPGStorageWithConnection(pool, WithCloser(pool.Close)), nil
}

func (s *PGStorage) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// withTx runs fn in a transaction on the underlying connection.
func (s *PGStorage) withTx(ctx context.Context, fn func(tx pgxv5.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func collectIDs(rows pgxv5.Rows) ([]int64, error) {
	return pgxv5.CollectRows(rows, pgxv5.RowTo[int64])
}
