// Package failurenotifier fans job failure notifications out to every
// configured sink.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meschain/marketsync/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration

	// NotifyRetries includes non-terminal attempt failures; the default
	// notifies only on dead-letter.
	NotifyRetries bool
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger        *slog.Logger
	sinks         []SinkRegistration
	notifyRetries bool
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "failure_notifier")
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{
		logger:        logger,
		sinks:         sinks,
		notifyRetries: opts.NotifyRetries,
	}
}

// NotifyJobFailure fans the payload out to all sinks concurrently and waits
// for delivery. Sink errors are logged, never propagated; notification
// failures must not fail the job transition that triggered them.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if len(s.sinks) == 0 {
		return
	}

	if !payload.DeadLettered && !s.notifyRetries {
		return
	}

	if payload.Severity == "" {
		if payload.DeadLettered {
			payload.Severity = notify.SeverityCritical
		} else {
			payload.Severity = notify.SeverityWarning
		}
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.Error("failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"marketplace", payload.Marketplace,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}
