package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meschain/marketsync/config"
	schedrunner "github.com/meschain/marketsync/internal/adapters/scheduler"
	sweeprunner "github.com/meschain/marketsync/internal/adapters/sweeper"
	"github.com/meschain/marketsync/internal/adapters/worker"
	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/statsd"
	"github.com/meschain/marketsync/internal/service"
)

// SchedulerConfig contains configuration for the scheduler loop.
type SchedulerConfig struct {
	Scheduler core.JobScheduler
	Config    config.SchedulerConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// RunScheduler starts the scheduler service.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		Scheduler: cfg.Scheduler,
		Config:    cfg.Config,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}

	return runner.Run(ctx)
}

// WorkerConfig contains configuration for the job worker pool.
type WorkerConfig struct {
	Jobs     *service.JobService
	Handlers map[model.JobType]worker.HandlerFunc
	Config   config.WorkerConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// RunWorker starts the worker pool service.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := worker.NewRunner(worker.RunnerOptions{
		Jobs:     cfg.Jobs,
		Handlers: cfg.Handlers,
		Config:   cfg.Config,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create worker runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run worker runner: %w", runErr)
	}
	return nil
}

// SweeperConfig contains configuration for the sweeper loop.
type SweeperConfig struct {
	Sweeper *service.SweeperService
	Logger  *slog.Logger
}

// RunSweeper starts the sweeper service.
func RunSweeper(ctx context.Context, cfg SweeperConfig) error {
	runner, err := sweeprunner.NewRunner(sweeprunner.RunnerOptions{
		Sweeper: cfg.Sweeper,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create sweeper runner: %w", err)
	}

	return runner.Run(ctx)
}
