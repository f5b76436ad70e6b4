// Package sweeper provides the runner adapter for the job store sweeper.
package sweeper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meschain/marketsync/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Sweeper *service.SweeperService
	Logger  *slog.Logger
}

// Runner drives the sweeper service loop.
type Runner struct {
	sweeper *service.SweeperService
	logger  *slog.Logger
}

// NewRunner creates a sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Sweeper == nil {
		return nil, errors.New("sweeper service is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		sweeper: opts.Sweeper,
		logger:  logger.With("component", "sweeper_runner"),
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner")
	return r.sweeper.Run(ctx)
}
