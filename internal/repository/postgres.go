package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

type pgTxKey struct{}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQuerierFrom returns the transaction stored in ctx, or the pool.
func pgQuerierFrom(ctx context.Context, pool *pgxpool.Pool) pgQuerier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}

	return pool
}

// EnsurePostgresSchema creates the receipt and audit tables if they are missing.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}

// PostgresStore bundles the pgx repositories over one pool.
type PostgresStore struct {
	ReceiptRepository
	AuditRepository
	TransactionManager

	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool. The pool is closed by Close.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		ReceiptRepository:  NewReceiptRepositoryImpl(pool),
		AuditRepository:    NewAuditRepositoryImpl(pool),
		TransactionManager: NewTransactionManagerImpl(pool),
		pool:               pool,
	}
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()

	return nil
}
