package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// ErrRetriesExhausted is wrapped around the last conflict once every retry failed
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// InTx runs fn inside a single transaction. Before fn runs, a transaction
// scoped advisory lock is taken for every key in sorted order so that
// concurrent callers sharing a key serialize. Serialization failures and
// deadlocks are retried; any other error rolls back and is returned as is.
func (db *DB) InTx(ctx context.Context, keys []string, fn func(tx *sql.Tx) error) error {
	locks := sortedUnique(keys)

	var lastErr error
	for attempt := 0; attempt <= db.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 10 * time.Millisecond
			db.logger.WithComponent("database").WithField("attempt", attempt).WithError(lastErr).Warn("Retrying transaction after conflict")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = db.runTx(ctx, locks, fn)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func (db *DB) runTx(ctx context.Context, locks []string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, key := range locks {
		if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsRetryable reports whether err is a serialization failure or deadlock
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

// UniqueViolation returns the violated constraint name when err is a unique violation
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
