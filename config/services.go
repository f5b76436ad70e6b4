package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server (webhook intake and admin API).
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the recurring-definition scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSweeper runs the job store sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeWorker,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler, ServiceModeWorker, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, worker, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"15s"`

	// BatchSize is the number of due definitions to expand per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"50"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
}

// WorkerConfig contains job worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// JobLease is the lease duration applied when claiming a job.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"60s"`

	// HeartbeatInterval is how often a worker extends its lease while a
	// job executes. Must be well under JobLease.
	HeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL" envDefault:"20s"`

	// IdleWait bounds how long an idle worker sleeps before re-polling
	// when no wakeup notification arrives.
	IdleWait time.Duration `env:"WORKER_IDLE_WAIT" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.HeartbeatInterval <= 0 || w.HeartbeatInterval >= w.JobLease {
		w.HeartbeatInterval = w.JobLease / 3
	}
	if w.IdleWait < time.Second {
		w.IdleWait = time.Second
	}
}

// SweeperConfig contains job store sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweep tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"5m"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"1000"`

	// PendingMaxAge is the maximum age for pending jobs nothing ever
	// claimed before they are dead-lettered.
	PendingMaxAge time.Duration `env:"SWEEPER_PENDING_MAX_AGE" envDefault:"24h"`

	// SucceededMaxAge is the retention window for succeeded jobs.
	SucceededMaxAge time.Duration `env:"SWEEPER_SUCCEEDED_MAX_AGE" envDefault:"168h"` // 7 days

	// DeadLetteredMaxAge is the retention window for dead-lettered jobs.
	// Longer than succeeded so failures stay inspectable.
	DeadLetteredMaxAge time.Duration `env:"SWEEPER_DEAD_LETTERED_MAX_AGE" envDefault:"720h"` // 30 days

	// LedgerMaxAge is the retention window for processed webhook events.
	// Must exceed the cache dedup TTL or replays could slip through.
	LedgerMaxAge time.Duration `env:"SWEEPER_LEDGER_MAX_AGE" envDefault:"168h"` // 7 days

	// DeadLetterAlertThreshold triggers an operator alert when this many
	// jobs dead-letter within DeadLetterAlertWindow. Zero disables.
	DeadLetterAlertThreshold int64 `env:"SWEEPER_DEAD_LETTER_ALERT_THRESHOLD" envDefault:"10"`

	// DeadLetterAlertWindow is the accumulation window for the alert.
	DeadLetterAlertWindow time.Duration `env:"SWEEPER_DEAD_LETTER_ALERT_WINDOW" envDefault:"1h"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	if s.PendingMaxAge < 5*time.Minute {
		s.PendingMaxAge = 5 * time.Minute
	}
	if s.SucceededMaxAge < time.Hour {
		s.SucceededMaxAge = time.Hour
	}
	if s.DeadLetteredMaxAge < time.Hour {
		s.DeadLetteredMaxAge = time.Hour
	}
	if s.LedgerMaxAge < 72*time.Hour {
		s.LedgerMaxAge = 72 * time.Hour
	}
	if s.DeadLetterAlertWindow < time.Minute {
		s.DeadLetterAlertWindow = time.Minute
	}

	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
