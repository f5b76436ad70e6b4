package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data/pgxutil"
	"github.com/meschain/marketsync/internal/domain/model"
)

const defaultMaxAttempts = 3

// claimDueSQL atomically claims the best due job of a type. The CTE locks
// a single candidate row with SKIP LOCKED so concurrent workers never
// select the same job, then the UPDATE takes ownership under a lease.
const claimDueSQL = `
  WITH due AS (
    SELECT id FROM jobs
    WHERE type = $1
      AND status IN ('pending', 'retrying')
      AND next_run_at <= $2
    ORDER BY priority DESC, next_run_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $3),
    claimed_by = $4,
    lease_expires_at = $5,
    updated_at = $3
  FROM due
  WHERE j.id = due.id
  RETURNING ` + jobColumns

// preparedJob carries normalized insert values for a job row.
type preparedJob struct {
	req         *model.CreateJobRequest
	params      []byte
	meta        []byte
	maxAttempts int
}

func (r *JobRepo) prepareJob(req *model.CreateJobRequest) (*preparedJob, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := []byte(req.Params)
	meta := []byte(`{}`)
	if len(req.Metadata) > 0 {
		meta = []byte(req.Metadata)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &preparedJob{req: req, params: params, meta: meta, maxAttempts: maxAttempts}, nil
}

func (r *JobRepo) buildInsertQuery(p *preparedJob) (string, []any) {
	query := `
      INSERT INTO jobs(type, marketplace, status, priority, params, metadata, schedule_id, next_run_at, max_attempts)
      VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8)
      RETURNING ` + jobColumns

	var nextRunAt time.Time
	if p.req.RunAt != nil {
		nextRunAt = p.req.RunAt.UTC()
	} else {
		nextRunAt = r.timeProvider.Now().UTC()
	}

	args := []any{
		p.req.Type,
		p.req.Marketplace,
		p.req.Priority,
		p.params,
		p.meta,
		p.req.ScheduleID,
		nextRunAt,
		p.maxAttempts,
	}
	return query, args
}

// Create inserts a pending job and notifies listening workers.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	prepared, err := r.prepareJob(req)
	if err != nil {
		return nil, err
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			query, args := r.buildInsertQuery(prepared)
			rows, qerr := tx.Query(ctx, query, args...)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			inserted, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
			if cerr != nil {
				return fmt.Errorf("collect job: %w", cerr)
			}

			channel := "job_added_" + string(req.Type)
			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, inserted.ID); nerr != nil {
				return fmt.Errorf("send job notification: %w", nerr)
			}

			job = inserted
			return nil
		},
	}); txErr != nil {
		return nil, txErr
	}

	return job, nil
}

// CreateInTx inserts a job within an existing SQL transaction. The
// scheduler uses this so definition bookkeeping and the job land together.
func (r *JobRepo) CreateInTx(ctx context.Context, sqlTx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	prepared, err := r.prepareJob(req)
	if err != nil {
		return nil, err
	}

	query, args := r.buildInsertQuery(prepared)
	row := sqlTx.QueryRowContext(ctx, query, args...)

	job, scanErr := scanJobFromRow(row)
	if scanErr != nil {
		return nil, fmt.Errorf("collect job: %w", scanErr)
	}

	channel := "job_added_" + string(req.Type)
	if _, nerr := sqlTx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, job.ID); nerr != nil {
		return nil, fmt.Errorf("send job notification: %w", nerr)
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	params, metadata               []byte
	scheduleID, claimedBy, lastErr sql.NullString
	startedAt, finishedAt, leaseAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Type,
		&job.Marketplace,
		&job.Status,
		&job.Priority,
		&d.params,
		&d.metadata,
		&d.scheduleID,
		&job.Attempts,
		&job.MaxAttempts,
		&d.lastErr,
		&job.NextRunAt,
		&d.startedAt,
		&d.finishedAt,
		&d.claimedBy,
		&d.leaseAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Params = cloneJSON(d.params)
	job.Metadata = cloneJSON(d.metadata)
	job.ScheduleID = cloneNullableString(d.scheduleID)
	job.LastError = cloneNullableString(d.lastErr)
	job.ClaimedBy = cloneNullableString(d.claimedBy)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.FinishedAt = cloneNullableTime(d.finishedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Advisory lock namespace for per-type lease reclamation, keeping job
// types from contending with each other.
const advisoryLockReclaimMajor int64 = 1001

func advisoryLockReclaimMinor(jobType model.JobType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobType))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// releaseExpired returns expired running jobs of the given type to pending
// so the claim that follows can pick them up. Crashed workers are recovered
// through this path.
func (r *JobRepo) releaseExpired(ctx context.Context, jobType model.JobType) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			minorKey := advisoryLockReclaimMinor(jobType)
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockReclaimMajor, minorKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now().UTC()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', claimed_by = NULL, lease_expires_at = NULL, updated_at = $2
          WHERE type = $1 AND status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, jobType, now)
			if err != nil {
				return fmt.Errorf("release expired leases: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
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

// ClaimDue claims the highest-priority due job of the given type for the
// calling worker. Returns model.ErrNoJobsDue when nothing is claimable.
func (r *JobRepo) ClaimDue(ctx context.Context, params core.ClaimDueParams) (*model.Job, error) {
	if !params.JobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", params.JobType)
	}
	if params.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if params.LeaseSeconds <= 0 {
		return nil, errors.New("lease seconds must be positive")
	}

	if _, err := r.releaseExpired(ctx, params.JobType); err != nil {
		return nil, fmt.Errorf("release expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			leaseExpiresAt := now.Add(time.Duration(params.LeaseSeconds) * time.Second)

			rows, qerr := tx.Query(ctx, claimDueSQL,
				params.JobType,
				now,
				now,
				params.WorkerID,
				leaseExpiresAt,
			)
			if qerr != nil {
				return fmt.Errorf("claim job: %w", qerr)
			}

			claimed, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsDue
			}
			if cerr != nil {
				return fmt.Errorf("claim job: %w", cerr)
			}
			job = claimed
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsDue) {
			return nil, model.ErrNoJobsDue
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat extends the lease on a running job still owned by the worker.
// A false return means ownership was lost; the worker must abandon the job.
func (r *JobRepo) Heartbeat(ctx context.Context, params core.HeartbeatParams) (bool, error) {
	if params.LeaseSeconds <= 0 {
		return false, errors.New("lease seconds must be positive")
	}

	now := r.timeProvider.Now().UTC()
	leaseExpiresAt := now.Add(time.Duration(params.LeaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $3,
		    updated_at = $4
		WHERE id = $1 AND status = 'running' AND claimed_by = $2
	`, params.JobID, params.WorkerID, leaseExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkSucceeded transitions a running job to succeeded and records the
// finished attempt.
func (r *JobRepo) MarkSucceeded(ctx context.Context, jobID string) (bool, error) {
	now := r.timeProvider.Now().UTC()

	var done bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var attempts int
			uerr := tx.QueryRowContext(ctx, `
				UPDATE jobs
				SET status = 'succeeded',
				    finished_at = $2,
				    updated_at = $2,
				    claimed_by = NULL,
				    lease_expires_at = NULL,
				    last_error = NULL
				WHERE id = $1 AND status = 'running'
				RETURNING attempts
			`, jobID, now).Scan(&attempts)
			if errors.Is(uerr, sql.ErrNoRows) {
				return nil
			}
			if uerr != nil {
				return fmt.Errorf("mark job succeeded: %w", uerr)
			}

			if _, ierr := tx.ExecContext(ctx, `
				INSERT INTO job_executions (job_id, attempt, status, finished_at)
				VALUES ($1, $2, 'succeeded', $3)
			`, jobID, attempts+1, now); ierr != nil {
				return fmt.Errorf("record execution: %w", ierr)
			}

			done = true
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

// MarkFailed increments attempts and routes the job to retrying or the
// dead letter state. The caller supplies the retry delay so backoff policy
// stays out of the SQL.
func (r *JobRepo) MarkFailed(ctx context.Context, params core.FailJobParams) (*model.Job, error) {
	if params.RetryDelay <= 0 {
		return nil, errors.New("retry delay must be positive")
	}

	now := r.timeProvider.Now().UTC()
	retryAt := now.Add(params.RetryDelay)

	var job *model.Job
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx, `
				UPDATE jobs
				SET
				  last_error = $2,
				  attempts = attempts + 1,
				  status = CASE WHEN attempts + 1 >= max_attempts THEN 'dead_lettered' ELSE 'retrying' END,
				  finished_at = CASE WHEN attempts + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
				  claimed_by = NULL,
				  lease_expires_at = NULL,
				  next_run_at = CASE WHEN attempts + 1 >= max_attempts THEN next_run_at ELSE $4::timestamptz END,
				  updated_at = $3
				WHERE id = $1 AND status = 'running'
				RETURNING `+jobColumns, params.JobID, params.ErrMsg, now, retryAt.UTC())

			updated, serr := scanJobFromRow(row)
			if errors.Is(serr, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			if serr != nil {
				return fmt.Errorf("mark job failed: %w", serr)
			}

			if _, ierr := tx.ExecContext(ctx, `
				INSERT INTO job_executions (job_id, attempt, status, error, finished_at)
				VALUES ($1, $2, $3, $4, $5)
			`, params.JobID, updated.Attempts, updated.Status, params.ErrMsg, now); ierr != nil {
				return fmt.Errorf("record execution: %w", ierr)
			}

			job = updated
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Reschedule moves a waiting job's next_run_at. Running and terminal jobs
// are left alone.
func (r *JobRepo) Reschedule(ctx context.Context, params core.RescheduleParams) (bool, error) {
	now := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET next_run_at = $2, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, params.JobID, params.RunAt.UTC(), now)
	if err != nil {
		return false, fmt.Errorf("reschedule job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reschedule rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats returns job counts per lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')       AS pending,
    count(*) FILTER (WHERE status = 'running')       AS running,
    count(*) FILTER (WHERE status = 'succeeded')     AS succeeded,
    count(*) FILTER (WHERE status = 'retrying')      AS retrying,
    count(*) FILTER (WHERE status = 'dead_lettered') AS dead_lettered
  FROM jobs
  `).Scan(
		&s.Pending,
		&s.Running,
		&s.Succeeded,
		&s.Retrying,
		&s.DeadLettered,
	)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks on a PostgreSQL LISTEN channel until a job of
// the given type is inserted or ctx expires.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	channel := "job_added_" + string(jobType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		// Unlisten with a fresh context: ctx is usually expired by now.
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		collected, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
		if cerr != nil {
			return cerr
		}
		job = collected
		return nil
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// LiveJobExistsForSchedule reports whether a schedule already has a
// waiting job or a running job with an unexpired lease. The scheduler
// skips expansion while one exists.
func (r *JobRepo) LiveJobExistsForSchedule(ctx context.Context, scheduleID string, now time.Time) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE schedule_id = $1
			  AND (
			    status IN ('pending', 'retrying')
			    OR (status = 'running' AND lease_expires_at > $2)
			  )
		)
	`, scheduleID, now.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check live jobs for schedule: %w", err)
	}
	return exists, nil
}

func buildJobListQuery(opts *model.JobListOptions) (string, []any) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE 1=1`
	args := []any{}

	appendFilter := func(column string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}

	if opts.Type != nil {
		appendFilter("type", string(*opts.Type))
	}
	if opts.Marketplace != nil {
		appendFilter("marketplace", string(*opts.Marketplace))
	}
	if opts.Status != nil {
		appendFilter("status", string(*opts.Status))
	}

	query += " ORDER BY created_at DESC, id DESC"
	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return query, args
}

// List returns jobs with optional type/marketplace/status filters for the
// admin surface.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	opts.Offset = max(opts.Offset, 0)

	query, args := buildJobListQuery(opts)

	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return fmt.Errorf("query jobs: %w", qerr)
		}
		vals, cerr := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
		if cerr != nil {
			return fmt.Errorf("collect jobs: %w", cerr)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// RecentExecutions returns the most recent finished attempts for a job.
func (r *JobRepo) RecentExecutions(ctx context.Context, jobID string, limit int) ([]*model.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT e.job_id, j.type, j.marketplace, e.status, e.attempt, e.error, e.finished_at
		FROM job_executions e
		JOIN jobs j ON j.id = e.job_id
		WHERE e.job_id = $1
		ORDER BY e.finished_at DESC, e.id DESC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*model.JobExecution
	for rows.Next() {
		var (
			exec       model.JobExecution
			errMsg     sql.NullString
			finishedAt sql.NullTime
		)
		if scanErr := rows.Scan(
			&exec.JobID,
			&exec.Type,
			&exec.Marketplace,
			&exec.Status,
			&exec.Attempts,
			&errMsg,
			&finishedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan execution: %w", scanErr)
		}
		exec.LastError = cloneNullableString(errMsg)
		exec.FinishedAt = cloneNullableTime(finishedAt)
		result = append(result, &exec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate executions: %w", rowsErr)
	}
	return result, nil
}

// Delete removes a job that is not running and holds no live lease.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = $1
		  AND status IN ('pending', 'retrying', 'succeeded', 'dead_lettered')
		  AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
	`, id, now)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	job, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("re-check job after delete attempt: %w", err)
	}

	if job.Status == model.JobStatusRunning {
		return ErrJobNotDeletable
	}
	if job.LeaseExpiresAt != nil && now.Before(*job.LeaseExpiresAt) {
		return ErrJobLeased
	}
	return errors.New("unexpected state: job is deletable but delete failed")
}
