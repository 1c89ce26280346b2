// Package postgres implements the persistence.Store port over a pgx
// connection pool. Schema migrations run at startup through goose.
package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/persistence"
)

// db is the query surface shared by pgxpool.Pool and pgx.Tx, so the
// same store methods run inside and outside a transaction.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store is the pgx-backed persistence store.
type Store struct {
	// pool is nil on the transaction-scoped view returned by WithTx.
	pool *pgxpool.Pool
	db   db
}

var _ persistence.Store = (*Store)(nil)

// New connects to the database, verifies the connection, applies
// pending migrations and returns the store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, db: pool}, nil
}

// WithTx runs fn inside one transaction. The advisory locks taken by
// fn through the passed store release when the transaction ends.
// Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx persistence.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(ctx, &Store{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TryAdvisoryLock acquires the transaction-scoped advisory lock for
// the (namespace, resource) pair. Resources within the int32 domain
// use the two-key form directly; larger ones hash the pair into the
// one-key bigint form. Any error reports the lock as not acquired.
func (s *Store) TryAdvisoryLock(ctx context.Context, namespace int32, resource int64) bool {
	var acquired bool
	var err error
	if resource >= math.MinInt32 && resource <= math.MaxInt32 {
		err = s.db.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock($1::int, $2::int)`,
			namespace, int32(resource)).Scan(&acquired)
	} else {
		err = s.db.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock($1::bigint)`,
			hashLockKey(namespace, resource)).Scan(&acquired)
	}
	if err != nil {
		logger.Warn(ctx, "Advisory lock query failed, treating lock as not acquired",
			tag.Error(err))
		return false
	}
	return acquired
}

// hashLockKey folds a (namespace, resource) pair into the bigint
// domain of the one-key advisory lock form.
func hashLockKey(namespace int32, resource int64) int64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(namespace))
	binary.BigEndian.PutUint64(buf[4:], uint64(resource))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

// Close releases the connection pool. It must be the last teardown
// step: callers guarantee no query is in flight.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
