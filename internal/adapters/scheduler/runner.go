// Package scheduler provides the runner loop driving the schedule
// expansion service.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/core"
	obserrors "github.com/meschain/marketsync/internal/observability/errors"
	"github.com/meschain/marketsync/internal/observability/metrics"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler core.JobScheduler
	Config    config.SchedulerConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Runner drives the scheduler service on a fixed tick interval.
type Runner struct {
	scheduler core.JobScheduler
	interval  time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewRunner creates a scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler service is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		scheduler: opts.Scheduler,
		interval:  cfg.Interval,
		logger:    logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// Run ticks the scheduler until the context is cancelled. A failed tick
// is logged and the loop keeps going; only cancellation stops it.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case now := <-ticker.C:
			start := time.Now()
			queued, err := r.scheduler.Tick(ctx, now)
			elapsed := time.Since(start)

			r.emitTickMetrics(queued, elapsed, err)

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			} else if queued > 0 {
				r.logger.InfoContext(ctx, "scheduler tick queued jobs", "queued", queued)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(queued int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if queued == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.tick", 1, tags)
	if queued > 0 {
		r.metrics.Count("scheduler.tasks_enqueued", int64(queued), tags)
	}
	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
