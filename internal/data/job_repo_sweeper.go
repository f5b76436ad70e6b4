package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data/pgxutil"
	"github.com/meschain/marketsync/internal/domain/model"
)

// Advisory lock namespace for sweeper operations. Major key 1000 is
// reserved for the sweeper; minor keys split its concerns so concurrent
// replicas skip instead of blocking.
const (
	advisoryLockSweeperMajor        = 1000
	advisoryLockSweeperRelease      = 1 // minor key for ReleaseExpiredLeases
	advisoryLockSweeperDelete       = 2 // minor key for DeleteOldJobs
	advisoryLockSweeperStalePending = 3 // minor key for DeadLetterStalePending
)

func (r *JobRepo) withSweeperLock(ctx context.Context, minor int64, fn func(*sql.Tx) (int64, error)) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweeperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			ra, err := fn(tx)
			if err != nil {
				return err
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ReleaseExpiredLeases returns expired running jobs of any type to pending
// in one bounded batch. Returns the number of jobs released.
func (r *JobRepo) ReleaseExpiredLeases(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	return r.withSweeperLock(ctx, advisoryLockSweeperRelease, func(tx *sql.Tx) (int64, error) {
		now := r.timeProvider.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending', claimed_by = NULL, lease_expires_at = NULL, updated_at = $1
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'running'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $1
				ORDER BY lease_expires_at
				LIMIT $2
			)
		`, now, batchSize)
		if err != nil {
			return 0, fmt.Errorf("release expired leases: %w", err)
		}
		return res.RowsAffected()
	})
}

// DeleteOldJobs deletes terminal jobs with the given status older than
// MaxAge, up to BatchSize rows per call to prevent long locks and I/O
// spikes. Returns the number of jobs deleted.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("retention sweep only covers terminal statuses, got %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	return r.withSweeperLock(ctx, advisoryLockSweeperDelete, func(tx *sql.Tx) (int64, error) {
		cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND (finished_at < $2 OR (finished_at IS NULL AND updated_at < $2))
				ORDER BY COALESCE(finished_at, updated_at)
				LIMIT $3
			)
		`, params.Status, cutoff, params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("delete old jobs: %w", err)
		}
		return res.RowsAffected()
	})
}

// DeadLetterStalePending dead-letters pending jobs that sat unclaimed
// longer than maxAge. Returns the number of jobs moved.
func (r *JobRepo) DeadLetterStalePending(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	return r.withSweeperLock(ctx, advisoryLockSweeperStalePending, func(tx *sql.Tx) (int64, error) {
		now := r.timeProvider.Now().UTC()
		cutoff := now.Add(-maxAge)
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'dead_lettered',
			    last_error = 'job timed out waiting to be claimed',
			    finished_at = $1,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'pending'
				  AND created_at < $2
				ORDER BY created_at
				LIMIT $3
			)
		`, now, cutoff, batchSize)
		if err != nil {
			return 0, fmt.Errorf("dead letter stale pending jobs: %w", err)
		}
		return res.RowsAffected()
	})
}

// CountDeadLetteredSince counts jobs dead-lettered after the given instant.
func (r *JobRepo) CountDeadLetteredSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM jobs
		WHERE status = $1
		  AND finished_at >= $2
	`, model.JobStatusDeadLettered, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead lettered jobs: %w", err)
	}
	return n, nil
}
