package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTxAttempts = 1
	defaultTxTimeout  = 15 * time.Second
)

// ErrTxConflict is returned when a transaction loses a row-lock race and the
// configured attempts are exhausted. Callers may retry the whole operation.
var ErrTxConflict = errors.New("postgres: transaction conflict")

// Querier is the subset of pgx satisfied by both the pool and an open
// transaction. Repositories issue all statements through it so the same code
// runs inside and outside RunInTx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

// WithTx stores the open transaction on the context for repository use.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction previously stored in context.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}

// TxFunc is executed within a database transaction. The transaction travels
// on the context; repositories pick it up via TxFromContext.
type TxFunc func(ctx context.Context) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
	isoLevel pgx.TxIsoLevel
}

// WithTxAttempts enables retries for transactions safe to re-run after a lock
// conflict. The default is a single attempt.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxIsoLevel overrides the isolation level. Read committed is the default.
func WithTxIsoLevel(level pgx.TxIsoLevel) TxOption {
	return func(cfg *txConfig) {
		if level != "" {
			cfg.isoLevel = level
		}
	}
}

// Runner executes functions inside database transactions with a bounded lock
// wait, so checkouts fail fast with a conflict instead of queueing forever.
type Runner struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRunner constructs a transaction runner over the pool.
func NewRunner(pool *pgxpool.Pool, lockTimeout time.Duration) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("postgres: pool is required")
	}
	return &Runner{pool: pool, lockTimeout: lockTimeout}, nil
}

// Querier returns the ambient transaction when one is on the context, falling
// back to the pool for standalone statements.
func (r *Runner) Querier(ctx context.Context) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

// RunInTx executes fn within a transaction. When fn is already running inside
// a transaction on ctx the call joins it rather than opening a nested one.
func (r *Runner) RunInTx(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	cfg := txConfig{
		attempts: defaultTxAttempts,
		timeout:  defaultTxTimeout,
		isoLevel: pgx.ReadCommitted,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		lastErr = r.runOnce(txnCtx, fn, cfg)
		if lastErr == nil {
			return nil
		}
		if !IsLockConflict(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

func (r *Runner) runOnce(ctx context.Context, fn TxFunc, cfg txConfig) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: cfg.isoLevel})
	if err != nil {
		return WrapError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return WrapError("set lock timeout", err)
		}
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return WrapError("commit transaction", err)
	}
	return nil
}
