package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meschain/marketsync/internal/core"
	domainjob "github.com/meschain/marketsync/internal/domain/job"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/metrics"
	"github.com/meschain/marketsync/internal/observability/notify"
	"github.com/meschain/marketsync/internal/observability/statsd"
	"github.com/meschain/marketsync/internal/service/failurenotifier"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	DefaultLease    time.Duration             // Required unless LeasePolicy given
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         statsd.Sink               // Optional: metrics sink
	FailureNotifier *failurenotifier.Service  // Optional: failure notification fan-out
	Backoff         domainjob.BackoffPolicy   // Optional: zero value uses the default policy
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService provides business logic for the job lifecycle.
//
// This service manages:
// - Enqueueing and claiming jobs
// - Lease ownership via heartbeats
// - Success, retry, and dead-letter transitions with backoff
// - Pub/sub wakeups for idle workers
// - Graceful shutdown of notification listeners.
type JobService struct {
	repo            core.JobRepository
	leasePolicy     *domainjob.LeasePolicy
	backoff         domainjob.BackoffPolicy
	notifier        domainjob.Notifier
	logger          *slog.Logger
	metrics         statsd.Sink
	failureNotifier *failurenotifier.Service
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	backoff := opts.Backoff
	if backoff.Base == 0 && backoff.Cap == 0 {
		backoff = domainjob.DefaultBackoffPolicy()
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
		logger.Debug("JobService initialized", "default_lease", leasePolicy.Default())
	}

	return &JobService{
		repo:            opts.Repo,
		leasePolicy:     leasePolicy,
		backoff:         backoff,
		notifier:        notifier,
		logger:          logger,
		metrics:         opts.Metrics,
		failureNotifier: opts.FailureNotifier,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create enqueues a new job.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate job request: %w", err)
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job created",
			"id", job.ID, "type", job.Type, "marketplace", job.Marketplace, "status", job.Status)
	}

	return job, nil
}

// ClaimNext claims the next due job of the given type for the worker.
// Returns model.ErrNoJobsDue when nothing is claimable.
func (s *JobService) ClaimNext(
	ctx context.Context,
	jobType model.JobType,
	workerID string,
	lease time.Duration,
) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)

	job, err := s.repo.ClaimDue(ctx, core.ClaimDueParams{
		JobType:      jobType,
		WorkerID:     workerID,
		LeaseSeconds: decision,
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsDue) {
			return nil, err
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job claimed",
			"id", job.ID, "type", jobType, "worker_id", workerID, "lease_seconds", decision)
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:     string(job.Type),
		Marketplace: string(job.Marketplace),
		Transition:  "claimed",
		Result:      metrics.ResultSuccess,
		Attempt:     job.Attempts,
	})

	return job, nil
}

// Subscribe creates a subscription for job notifications of the given type.
// Returns an unsubscribe function and a channel that receives wakeups.
func (s *JobService) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(jobType)
}

// Heartbeat extends the lease on a job still owned by the worker.
// Returns false when ownership was lost.
func (s *JobService) Heartbeat(
	ctx context.Context,
	jobID, workerID string,
	extend time.Duration,
) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)

	owned, err := s.repo.Heartbeat(ctx, core.HeartbeatParams{
		JobID:        jobID,
		WorkerID:     workerID,
		LeaseSeconds: decision,
	})
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}

	if !owned && s.logger != nil {
		s.logger.WarnContext(ctx, "heartbeat lost job ownership", "id", jobID, "worker_id", workerID)
	}

	return owned, nil
}

// Complete marks a running job as succeeded.
func (s *JobService) Complete(ctx context.Context, job *model.Job, duration time.Duration) (bool, error) {
	completed, err := s.repo.MarkSucceeded(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	if completed {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job succeeded",
				"id", job.ID, "type", job.Type, "marketplace", job.Marketplace,
				"attempt", job.Attempts+1, "duration", duration)
		}
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			JobType:     string(job.Type),
			Marketplace: string(job.Marketplace),
			Transition:  "succeeded",
			Result:      metrics.ResultSuccess,
			Attempt:     job.Attempts + 1,
			Duration:    duration,
		})
	}

	return completed, nil
}

// FailArgs carries the context of a failed attempt.
type FailArgs struct {
	Job      *model.Job
	WorkerID string
	Err      error
	Duration time.Duration
}

// Fail records a failed attempt. The job transitions to retrying with a
// backoff-positioned next_run_at, or to dead_lettered once attempts are
// exhausted. Dead-letter transitions fan out failure notifications.
func (s *JobService) Fail(ctx context.Context, args FailArgs) (*model.Job, error) {
	if args.Err == nil {
		return nil, errors.New("failure error is required")
	}

	job := args.Job
	attempt := job.Attempts + 1
	delay := s.backoff.Delay(attempt)

	updated, err := s.repo.MarkFailed(ctx, core.FailJobParams{
		JobID:      job.ID,
		WorkerID:   args.WorkerID,
		ErrMsg:     args.Err.Error(),
		RetryDelay: delay,
	})
	if err != nil {
		return nil, fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	transition := "retrying"
	if updated.Status == model.JobStatusDeadLettered {
		transition = "dead_lettered"
	}

	if s.logger != nil {
		s.logger.WarnContext(ctx, "job attempt failed",
			"id", job.ID, "type", job.Type, "marketplace", job.Marketplace,
			"attempt", attempt, "max_attempts", job.MaxAttempts,
			"transition", transition, "retry_delay", delay, "error", args.Err)
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:     string(job.Type),
		Marketplace: string(job.Marketplace),
		Transition:  transition,
		Result:      metrics.ResultError,
		Attempt:     attempt,
		Duration:    args.Duration,
		Err:         args.Err,
	})

	if s.failureNotifier != nil {
		s.failureNotifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
			JobID:        job.ID,
			JobType:      string(job.Type),
			Marketplace:  string(job.Marketplace),
			Attempts:     updated.Attempts,
			MaxAttempts:  updated.MaxAttempts,
			DeadLettered: updated.Status == model.JobStatusDeadLettered,
			Error:        args.Err.Error(),
			OccurredAt:   time.Now(),
			Metadata: map[string]string{
				"priority": strconv.Itoa(job.Priority),
				"status":   string(updated.Status),
			},
		})
	}

	return updated, nil
}

// Reschedule moves a pending or retrying job's next run time.
func (s *JobService) Reschedule(ctx context.Context, jobID string, runAt time.Time) (bool, error) {
	moved, err := s.repo.Reschedule(ctx, core.RescheduleParams{JobID: jobID, RunAt: runAt})
	if err != nil {
		return false, fmt.Errorf("reschedule job %s: %w", jobID, err)
	}

	if moved && s.logger != nil {
		s.logger.InfoContext(ctx, "job rescheduled", "id", jobID, "run_at", runAt)
	}

	return moved, nil
}

// Stats returns job counts per lifecycle state.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs matching the filter for the admin surface.
// Pagination defaults are normalized here to avoid drift across layers.
func (s *JobService) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	p := normalizePagination(opts.Limit, opts.Offset)
	opts.Limit = p.Limit
	opts.Offset = p.Offset

	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// RecentExecutions returns finished attempts for a job, newest first.
func (s *JobService) RecentExecutions(ctx context.Context, jobID string, limit int) ([]*model.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	execs, err := s.repo.RecentExecutions(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent executions for job %s: %w", jobID, err)
	}
	return execs, nil
}

// Delete removes a job. Only terminal or unclaimed pending jobs can be
// deleted; the repository enforces the state constraint.
func (s *JobService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("job id is required")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job deleted", "id", id)
	}

	return nil
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *JobService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}

	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// paginationParams holds normalized pagination parameters.
type paginationParams struct {
	Limit  int
	Offset int
}

// normalizePagination clamps pagination parameters to safe defaults.
// Default limit: 50, max limit: 1000, min offset: 0.
func normalizePagination(limit, offset int) paginationParams {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return paginationParams{Limit: limit, Offset: offset}
}
