// Package worker provides the job execution pool: claiming due jobs,
// running their handlers, and settling the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/statsd"
	"github.com/meschain/marketsync/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Jobs     *service.JobService
	Handlers map[model.JobType]HandlerFunc
	Config   config.WorkerConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// WorkerID overrides the generated id; useful in tests.
	WorkerID string
}

// Runner pulls jobs and executes them using the registered handlers.
// One Runner serves every job type it has a handler for.
type Runner struct {
	jobs      *service.JobService
	handlers  map[model.JobType]HandlerFunc
	jobTypes  []model.JobType
	workerID  string
	workers   int
	lease     time.Duration
	heartbeat time.Duration
	idleWait  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewRunner creates a worker pool runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if len(opts.Handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerID := opts.WorkerID
	if workerID == "" {
		workerID = generateWorkerID()
	}

	// Stable claim order keeps starvation observable: a type that never
	// drains shows up as the same position falling behind every loop.
	jobTypes := make([]model.JobType, 0, len(opts.Handlers))
	for jt := range opts.Handlers {
		jobTypes = append(jobTypes, jt)
	}
	sort.Slice(jobTypes, func(i, j int) bool { return jobTypes[i] < jobTypes[j] })

	return &Runner{
		jobs:      opts.Jobs,
		handlers:  opts.Handlers,
		jobTypes:  jobTypes,
		workerID:  workerID,
		workers:   cfg.Concurrency,
		lease:     cfg.JobLease,
		heartbeat: cfg.HeartbeatInterval,
		idleWait:  cfg.IdleWait,
		logger:    logger.With("component", "worker_runner"),
		metrics:   opts.Metrics,
	}, nil
}

func generateWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Run starts the worker goroutines and processes jobs until the context
// is cancelled. In-flight jobs settle before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner",
		"worker_id", r.workerID, "workers", r.workers,
		"job_types", len(r.jobTypes), "lease", r.lease)

	wake := r.subscribeAll(ctx)
	defer r.jobs.StopAllListeners()

	g, ctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		id := fmt.Sprintf("%s-%d", r.workerID, i)
		g.Go(func() error {
			return r.workerLoop(ctx, id, wake)
		})
	}

	if err := g.Wait(); err != nil && !isContextCancellation(ctx, err) {
		return err
	}
	return nil
}

// subscribeAll merges the per-type wakeup channels into one. A single
// signal is enough; the claim loop sweeps every type anyway.
func (r *Runner) subscribeAll(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	for _, jt := range r.jobTypes {
		unsub, ch := r.jobs.Subscribe(jt)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			}
		}()
	}
	return wake
}

func (r *Runner) workerLoop(ctx context.Context, workerID string, wake <-chan struct{}) error {
	timer := time.NewTimer(r.idleWait)
	defer timer.Stop()

	for ctx.Err() == nil {
		claimed, err := r.claimAndRun(ctx, workerID)
		if err != nil {
			return err
		}
		if claimed {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.idleWait)

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		case <-timer.C:
			// Poll fallback: a missed notification must not strand due jobs.
		}
	}
	return nil
}

// claimAndRun sweeps the job types once and executes the first claimable
// job. Returns false when every type reported nothing due.
func (r *Runner) claimAndRun(ctx context.Context, workerID string) (bool, error) {
	for _, jt := range r.jobTypes {
		job, err := r.jobs.ClaimNext(ctx, jt, workerID, r.lease)
		switch {
		case err == nil:
			r.execute(ctx, workerID, job)
			return true, nil
		case errors.Is(err, model.ErrNoJobsDue):
			continue
		case isContextCancellation(ctx, err):
			return false, nil
		default:
			return false, fmt.Errorf("claim next %s: %w", jt, err)
		}
	}
	return false, nil
}

func (r *Runner) execute(ctx context.Context, workerID string, job *model.Job) {
	start := time.Now()

	handler, ok := r.handlers[job.Type]
	if !ok {
		// Registration bug: settle the job so it does not hold its lease.
		r.settle(ctx, workerID, job, start, fmt.Errorf("no handler for job type %s", job.Type))
		return
	}

	// The handler context is cut the moment ownership is lost, so two
	// workers never run the same job side by side.
	jobCtx, cancelJob := context.WithCancel(ctx)
	stopHeartbeat := r.startHeartbeat(jobCtx, workerID, job, cancelJob)

	err := handler(jobCtx, job)
	stopHeartbeat()
	cancelJob()

	if err != nil && jobCtx.Err() != nil && ctx.Err() == nil {
		err = fmt.Errorf("lease ownership lost: %w", err)
	}
	r.settle(ctx, workerID, job, start, err)
}

// startHeartbeat extends the lease on an interval until stopped. Losing
// ownership cancels the job context through onLost.
func (r *Runner) startHeartbeat(
	ctx context.Context,
	workerID string,
	job *model.Job,
	onLost context.CancelFunc,
) func() {
	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				owned, err := r.jobs.Heartbeat(hbCtx, job.ID, workerID, r.lease)
				if err != nil {
					if isContextCancellation(hbCtx, err) {
						return
					}
					r.logger.WarnContext(hbCtx, "heartbeat failed",
						"job_id", job.ID, "worker_id", workerID, "error", err)
					continue
				}
				if !owned {
					onLost()
					return
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

// settle records the attempt outcome. Settlement runs detached from the
// run context so a drain in progress still lands the state transition.
func (r *Runner) settle(ctx context.Context, workerID string, job *model.Job, start time.Time, runErr error) {
	settleCtx := context.WithoutCancel(ctx)
	duration := time.Since(start)

	if runErr != nil {
		if _, err := r.jobs.Fail(settleCtx, service.FailArgs{
			Job:      job,
			WorkerID: workerID,
			Err:      runErr,
			Duration: duration,
		}); err != nil {
			r.logger.ErrorContext(settleCtx, "fail job error",
				"job_id", job.ID, "error", err, "original_error", runErr)
		}
		return
	}

	if _, err := r.jobs.Complete(settleCtx, job, duration); err != nil {
		r.logger.ErrorContext(settleCtx, "complete job error", "job_id", job.ID, "error", err)
	}
}

func isContextCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
