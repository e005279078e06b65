// Package db provides PostgreSQL-backed repository implementations for the
// booking engine. All repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution), enabling clean transaction support.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"classbook/internal/config"
	"classbook/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can also open transactions. *pgxpool.Pool satisfies it.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPool opens a pgx pool tuned from DatabaseConfig and pings it once.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// isTransient reports whether err is a concurrency failure the client may
// retry: serialization failures, deadlocks and lock timeouts.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	}
	return false
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation
	}
	return false
}

// dbError wraps a driver error. Transient failures become
// conflict_transient_retry so callers can tell them apart from real faults;
// AppErrors raised inside a transaction callback pass through unchanged.
func dbError(msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isTransient(err) {
		return types.NewAppError(types.ErrCodeConflictTransient, "concurrent update, please retry", err)
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}

// retryRead runs a read-only query and retries it once on a transient
// failure. Mutations are never retried here.
func retryRead(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) || ctx.Err() != nil {
		return err
	}
	return fn()
}

// runInTx runs fn inside a transaction on pool. The transaction commits only
// if fn returns nil.
func runInTx(ctx context.Context, pool Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return dbError("failed to begin transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return dbError("transaction failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return dbError("failed to commit transaction", err)
	}
	return nil
}

// tenantArg turns a scope into the nullable tenant predicate argument used
// as `($n::text IS NULL OR tenant_id = $n)`.
func tenantArg(scope types.Scope) *string {
	if scope.AllTenants || scope.TenantID == "" {
		return nil
	}
	id := scope.TenantID
	return &id
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// PoolProbe reports database reachability on /health.
type PoolProbe struct {
	Pool interface {
		Ping(ctx context.Context) error
	}
}

// Name implements core.HealthProbe.
func (p PoolProbe) Name() string { return "database" }

// Check implements core.HealthProbe.
func (p PoolProbe) Check(ctx context.Context) error { return p.Pool.Ping(ctx) }
