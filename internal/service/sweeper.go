package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	obserrors "github.com/meschain/marketsync/internal/observability/errors"
	"github.com/meschain/marketsync/internal/observability/metrics"
	"github.com/meschain/marketsync/internal/observability/notify"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo     core.SweeperRepository // Required: sweeper repository
	Ledger   core.EventLedger       // Optional: webhook event ledger for purging
	Config   config.SweeperConfig   // Required: sweeper configuration
	Logger   *slog.Logger           // Optional: structured logger
	Metrics  statsd.Sink            // Optional: metrics sink (StatsD-compatible)
	Operator notify.OperatorSink    // Optional: operator alerts for dead-letter pileups
}

// SweeperService keeps the job store healthy.
//
// This service manages:
// - Releasing expired leases so crashed workers' jobs get reclaimed.
// - Dead-lettering stale pending jobs that were never picked up.
// - Deleting terminal jobs past their retention window.
// - Purging the webhook event ledger past the dedup horizon.
// - Alerting the operator when dead letters accumulate.
type SweeperService struct {
	repo     core.SweeperRepository
	ledger   core.EventLedger
	config   config.SweeperConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	operator notify.OperatorSink

	lastAlertAt time.Time
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SweeperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"pending_max_age", opts.Config.PendingMaxAge,
			"succeeded_max_age", opts.Config.SucceededMaxAge,
			"dead_lettered_max_age", opts.Config.DeadLetteredMaxAge,
			"ledger_max_age", opts.Config.LedgerMaxAge,
		)
	}

	return &SweeperService{
		repo:     opts.Repo,
		ledger:   opts.Ledger,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		operator: opts.Operator,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter keeps replicas that started together from sweeping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runSweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runSweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Keep running despite errors; the next tick retries.
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// runSweep performs one pass of all sweep operations.
func (s *SweeperService) runSweep(ctx context.Context) error {
	start := time.Now()
	var errs []error
	allCanceled := true

	steps := []struct {
		label string
		fn    func(context.Context) (int64, error)
	}{
		{"release_leases", s.releaseExpiredLeases},
		{"dead_letter_stale", s.deadLetterStalePending},
		{"delete_succeeded", s.deleteOldSucceededJobs},
		{"delete_dead_lettered", s.deleteOldDeadLetteredJobs},
		{"purge_ledger", s.purgeEventLedger},
	}

	var total int64
	for _, step := range steps {
		count, err := step.fn(ctx)
		total += count
		s.emitSweepOperation(step.label, count, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	if err := s.checkDeadLetterAccumulation(ctx); err != nil && !isContextCancellation(err) {
		errs = append(errs, fmt.Errorf("dead letter check: %w", err))
	}

	s.emitSweepSummary(total, time.Since(start), errs)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}

	return nil
}

// releaseExpiredLeases returns expired running jobs to pending in batches.
func (s *SweeperService) releaseExpiredLeases(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.repo.ReleaseExpiredLeases(ctx, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "released expired leases", "count", total)
	}

	return total, nil
}

// deadLetterStalePending dead-letters pending jobs nothing ever claimed,
// surfacing forgotten work in alerts instead of an ever-growing queue.
func (s *SweeperService) deadLetterStalePending(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.repo.DeadLetterStalePending(ctx, s.config.PendingMaxAge, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "dead-lettered stale pending jobs",
			"count", total, "max_age", s.config.PendingMaxAge)
	}

	return total, nil
}

func (s *SweeperService) deleteOldSucceededJobs(ctx context.Context) (int64, error) {
	return s.deleteOldJobs(ctx, model.JobStatusSucceeded, s.config.SucceededMaxAge)
}

func (s *SweeperService) deleteOldDeadLetteredJobs(ctx context.Context) (int64, error) {
	return s.deleteOldJobs(ctx, model.JobStatusDeadLettered, s.config.DeadLetteredMaxAge)
}

// deleteOldJobs deletes terminal jobs past retention in batches.
func (s *SweeperService) deleteOldJobs(
	ctx context.Context,
	status model.JobStatus,
	maxAge time.Duration,
) (int64, error) {
	var total int64
	for {
		count, err := s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old jobs",
			"status", status, "count", total, "max_age", maxAge)
	}

	return total, nil
}

// purgeEventLedger drops processed-event rows past the dedup horizon.
func (s *SweeperService) purgeEventLedger(ctx context.Context) (int64, error) {
	if s.ledger == nil {
		return 0, nil
	}

	var total int64
	for {
		count, err := s.ledger.PurgeOlderThan(ctx, s.config.LedgerMaxAge, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "purged event ledger rows",
			"count", total, "max_age", s.config.LedgerMaxAge)
	}

	return total, nil
}

// checkDeadLetterAccumulation alerts the operator when recent dead letters
// cross the configured threshold. Alerts at most once per window so a
// sustained pileup does not page on every sweep.
func (s *SweeperService) checkDeadLetterAccumulation(ctx context.Context) error {
	if s.config.DeadLetterAlertThreshold <= 0 {
		return nil
	}

	since := time.Now().Add(-s.config.DeadLetterAlertWindow)
	count, err := s.repo.CountDeadLetteredSince(ctx, since)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Gauge("sweeper.dead_lettered_recent", float64(count), nil)
	}

	if count < s.config.DeadLetterAlertThreshold {
		return nil
	}
	if time.Since(s.lastAlertAt) < s.config.DeadLetterAlertWindow {
		return nil
	}
	s.lastAlertAt = time.Now()

	if s.logger != nil {
		s.logger.ErrorContext(ctx, "dead letter accumulation over threshold",
			"count", count, "threshold", s.config.DeadLetterAlertThreshold,
			"window", s.config.DeadLetterAlertWindow)
	}

	if s.operator != nil {
		alertErr := s.operator.SendOperatorAlert(ctx, notify.OperatorAlertPayload{
			Title: "Dead letter accumulation",
			Message: fmt.Sprintf("%d jobs dead-lettered in the last %s (threshold %d)",
				count, s.config.DeadLetterAlertWindow, s.config.DeadLetterAlertThreshold),
			Severity:   notify.SeverityCritical,
			OccurredAt: time.Now(),
			Metadata: map[string]string{
				"count":     strconv.FormatInt(count, 10),
				"threshold": strconv.FormatInt(s.config.DeadLetterAlertThreshold, 10),
			},
		})
		if alertErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "dead letter alert delivery failed", "error", alertErr)
		}
	}

	return nil
}

func (s *SweeperService) emitSweepOperation(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil && !isContextCancellation(err) {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil && result == metrics.ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.sweep_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("sweeper.rows_processed", count, metrics.CloneTags(tags))
	}
}

func (s *SweeperService) emitSweepSummary(total int64, elapsed time.Duration, errs []error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	switch {
	case len(errs) > 0:
		result = metrics.ResultError
	case total == 0:
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	s.metrics.Count("sweeper.sweep", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("sweeper.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if len(errs) == 0 {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
