// Package postgres implements the repositories on PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acai-shop/api/internal/repositories"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// Store is the PostgreSQL-backed Registry.
type Store struct {
	pool *pgxpool.Pool
}

var _ repositories.Registry = (*Store)(nil)

// Open connects a pool to the DSN and verifies connectivity.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded migrations in lexical order. Every script is idempotent.
func (s *Store) Migrate(ctx context.Context, applied func(name string)) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("postgres: list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
		if applied != nil {
			applied(name)
		}
	}
	return nil
}

func (s *Store) Orders() repositories.OrderRepository         { return orderRepository{s} }
func (s *Store) Deliverers() repositories.DelivererRepository { return delivererRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository       { return catalogRepository{s} }
func (s *Store) Users() repositories.UserRepository            { return userRepository{s} }
func (s *Store) Addresses() repositories.AddressRepository     { return addressRepository{s} }

// RunInTx opens a transaction and exposes it to repository calls through ctx. Nested calls join
// the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError("commit", err)
	}
	return nil
}

func (s *Store) q(ctx context.Context) (querier, bool) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx, true
	}
	return s.pool, false
}
