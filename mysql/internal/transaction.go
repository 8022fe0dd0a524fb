package internal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// RunInTx runs fn in a database transaction.
// The context ctx is passed to fn, as well as the newly created
// transaction. If fn fails, the transaction is rolled back.
//
// There are a few rules that fn must respect:
//
// 1. fn must use the passed tx reference for all database calls.
// 2. fn must not commit or rollback the transaction: RunInTx will do that.
//
// RunInTx also recovers from panics, e.g. in fn.
func RunInTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := recover(); rerr != nil {
			err = fmt.Errorf("%v", rerr)
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RunInTxWithRetry is like RunInTx but will retry fn several times with
// exponential backoff, as long as retryable reports the returned error
// as transient. In that case fn must be idempotent, i.e. it may be
// called several times without side effects.
func RunInTxWithRetry(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error, retryable func(error) bool) (err error) {
	return RunInTxWithRetryBackoff(
		ctx,
		db,
		fn,
		retryable,
		backoff.NewExponentialBackOff(), // use defaults
	)
}

// RunInTxWithRetryBackoff is like RunInTxWithRetry but with configurable
// backoff.
func RunInTxWithRetryBackoff(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error, retryable func(error) bool, b backoff.BackOff) (err error) {
	b.Reset()
	for {
		if err = RunInTx(ctx, db, fn); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
