// Package service provides business logic services for the marketsync job system.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

const defaultSchedulerBatchSize = 50

// SchedulerServiceOptions groups dependencies for SchedulerService.
type SchedulerServiceOptions struct {
	Schedules    core.ScheduleRepository // Required: schedule definition repository
	Jobs         core.JobRepository      // Required: job repository
	Introspector core.JobIntrospector    // Required: live-job lookup for overrun decisions
	BatchSize    int                     // Optional: max definitions per tick
	Logger       *slog.Logger            // Optional: structured logger
	Metrics      statsd.Sink             // Optional: metrics sink
}

// SchedulerService expands due recurring definitions into pending jobs.
// Safe under concurrent replicas: each definition is processed under a
// name-keyed advisory lock, and the jobs table's fire-key unique index
// rejects a second insert for the same period when a replica expands from
// a stale due snapshot.
type SchedulerService struct {
	schedules core.ScheduleRepository
	jobs      core.JobRepository
	jobq      core.JobIntrospector
	batchSize int
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewSchedulerService constructs a new SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Schedules == nil {
		return nil, errors.New("ScheduleRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Introspector == nil {
		return nil, errors.New("JobIntrospector is required")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSchedulerBatchSize
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scheduler_service")
	}

	return &SchedulerService{
		schedules: opts.Schedules,
		jobs:      opts.Jobs,
		jobq:      opts.Introspector,
		batchSize: batchSize,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Tick processes due definitions and enqueues jobs. Returns the number of
// jobs queued this tick.
//
// A definition whose previous job is still live (pending, retrying, or
// running on an unexpired lease) is skipped for this period: last_queued_at
// still advances so the period is consumed rather than retried every tick.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.schedules.FindDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find due definitions: %w", err)
	}

	queued := 0
	for _, def := range due {
		created := false
		lockOK, lockErr := s.schedules.TryWithScheduleLock(ctx, def.Name, func(ctx context.Context, tx *sql.Tx) error {
			var processErr error
			created, processErr = s.expandDefinition(ctx, tx, def, now)
			return processErr
		})
		if lockErr != nil {
			return queued, fmt.Errorf("expand definition %s: %w", def.Name, lockErr)
		}
		if lockOK && created {
			queued++
		}
		// lockOK==false means another replica holds this definition; skip.
	}

	if queued > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "scheduler tick queued jobs", "queued", queued, "due", len(due))
	}

	return queued, nil
}

// expandDefinition enqueues one job for the definition's current period and
// advances last_queued_at, all within the advisory-locked transaction.
// Returns created=true only when a new job row was inserted.
func (s *SchedulerService) expandDefinition(
	ctx context.Context,
	tx *sql.Tx,
	def *model.ScheduleDefinition,
	now time.Time,
) (bool, error) {
	live, err := s.jobq.LiveJobExistsForSchedule(ctx, def.ID, now)
	if err != nil {
		return false, fmt.Errorf("check live job for %s: %w", def.Name, err)
	}

	created := false
	if live {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "skipping overrunning definition",
				"definition", def.Name, "job_type", def.JobType)
		}
	} else {
		req, reqErr := s.buildJobRequest(def, now)
		if reqErr != nil {
			return false, reqErr
		}
		created, err = s.insertJob(ctx, tx, req)
		if err != nil {
			return false, err
		}
	}

	marked, err := s.schedules.MarkQueuedTx(ctx, tx, core.MarkQueuedParams{ID: def.ID, Now: now})
	if err != nil {
		return false, fmt.Errorf("mark definition queued: %w", err)
	}
	if !marked && s.logger != nil {
		s.logger.WarnContext(ctx, "definition vanished while queueing", "definition", def.Name)
	}

	return created, nil
}

// buildJobRequest maps a definition to a CreateJobRequest carrying the
// schedule linkage and an idempotent fire key in metadata.
func (s *SchedulerService) buildJobRequest(
	def *model.ScheduleDefinition,
	now time.Time,
) (*model.CreateJobRequest, error) {
	meta, err := json.Marshal(map[string]string{
		"source":            "scheduler",
		"schedule_name":     def.Name,
		"schedule_interval": def.Interval.String(),
		"fire_key":          fireKey(def, now),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	params := def.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	scheduleID := def.ID
	return &model.CreateJobRequest{
		Type:        def.JobType,
		Marketplace: def.Marketplace,
		Params:      params,
		Metadata:    meta,
		Priority:    def.Priority,
		ScheduleID:  &scheduleID,
		MaxAttempts: def.MaxAttempts,
	}, nil
}

// fireKey identifies the period a job was expanded for, keyed to the
// interval boundary so retried ticks within one period agree on the key.
func fireKey(def *model.ScheduleDefinition, now time.Time) string {
	period := now.Truncate(def.Interval)
	return fmt.Sprintf("%s:%d", def.ID, period.Unix())
}

// insertJob creates the job within the transaction when the repository
// supports it. A unique-violation on the fire key means another replica
// already queued this period; that is a no-op, not an error.
func (s *SchedulerService) insertJob(
	ctx context.Context,
	tx *sql.Tx,
	req *model.CreateJobRequest,
) (bool, error) {
	err := s.createJob(ctx, tx, req)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("create job: %w", err)
	}
	return true, nil
}

func (s *SchedulerService) createJob(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) error {
	if tx == nil {
		_, err := s.jobs.Create(ctx, req)
		return err
	}

	if creator, ok := s.jobs.(core.JobRepositoryTx); ok {
		_, err := creator.CreateInTx(ctx, tx, req)
		return err
	}

	if s.logger != nil {
		s.logger.WarnContext(
			ctx,
			"job repository missing transactional support; falling back to non-transactional create",
		)
	}

	_, err := s.jobs.Create(ctx, req)
	return err
}

// RunNow enqueues a job for the definition immediately, outside its
// interval. The definition's last_queued_at is untouched so the regular
// cadence is unaffected.
func (s *SchedulerService) RunNow(ctx context.Context, definitionID string) (*model.Job, error) {
	def, err := s.schedules.GetByID(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("get definition %s: %w", definitionID, err)
	}

	meta, err := json.Marshal(map[string]string{
		"source":        "manual",
		"schedule_name": def.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	params := def.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	scheduleID := def.ID
	job, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:        def.JobType,
		Marketplace: def.Marketplace,
		Params:      params,
		Metadata:    meta,
		Priority:    def.Priority,
		ScheduleID:  &scheduleID,
		MaxAttempts: def.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue manual run for %s: %w", def.Name, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "manual run queued",
			"definition", def.Name, "job_id", job.ID, "job_type", job.Type)
	}
	if s.metrics != nil {
		s.metrics.Count("scheduler.manual_runs", 1, map[string]string{
			"job_type":    string(def.JobType),
			"marketplace": string(def.Marketplace),
		})
	}

	return job, nil
}

var _ core.JobScheduler = (*SchedulerService)(nil)
