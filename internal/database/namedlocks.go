// Package database provides database connection management for the groupwork application.
// This file implements named advisory locks for serializing bulk operations.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// LockOptions controls advisory lock acquisition in DoWithLock.
type LockOptions struct {
	// TimeoutMillis bounds how long acquisition may block before giving up.
	TimeoutMillis int

	// OnNotAcquired is invoked when the lock could not be acquired within
	// the timeout. Its return value becomes the result of DoWithLock.
	// If nil, a generic error is returned instead.
	OnNotAcquired func() error
}

// lockTimedOut reports whether err is a PostgreSQL lock_timeout expiry
// (SQLSTATE 55P03, lock_not_available).
func lockTimedOut(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

// DoWithLock executes fn inside a transaction while holding the named
// advisory lock. The lock is transaction-scoped (pg_advisory_xact_lock), so
// it is released automatically on commit or rollback.
//
// Acquisition blocks up to TimeoutMillis; if the lock is still held by
// another session after that, the transaction is abandoned and
// OnNotAcquired is called instead of fn. This gives bulk jobs a graceful
// "another update is already running" path rather than blocking forever.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - name: Lock name, e.g. "assessment:42:groups"
//   - opts: Timeout and not-acquired handling
//   - fn: Transaction body, executed with the lock held
//
// Returns:
//   - error: fn's error, the OnNotAcquired result, or an infrastructure error
func DoWithLock(ctx context.Context, name string, opts LockOptions, fn func(tx DBTX) error) error {
	notAcquired := false

	err := RunInTransaction(ctx, func(tx DBTX) error {
		// lock_timeout is transaction-local and applies to the advisory
		// lock wait below. It cannot be bound as a parameter.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.TimeoutMillis)); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
			if lockTimedOut(err) {
				notAcquired = true
				return fmt.Errorf("lock %q not acquired: %w", name, err)
			}
			return fmt.Errorf("failed to acquire lock %q: %w", name, err)
		}

		return fn(tx)
	})

	if notAcquired {
		if opts.OnNotAcquired != nil {
			return opts.OnNotAcquired()
		}
		return err
	}
	return err
}
