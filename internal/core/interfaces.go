// Package core defines the ports between the service layer and the data
// layer. Services depend on these interfaces, never on concrete repos.
package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
)

// ClaimDueParams groups parameters for JobRepository.ClaimDue.
type ClaimDueParams struct {
	JobType      model.JobType
	WorkerID     string
	LeaseSeconds int
}

// HeartbeatParams groups parameters for JobRepository.Heartbeat.
type HeartbeatParams struct {
	JobID        string
	WorkerID     string
	LeaseSeconds int
}

// FailJobParams groups parameters for JobRepository.MarkFailed.
// RetryDelay positions next_run_at when the job still has attempts left.
type FailJobParams struct {
	JobID      string
	WorkerID   string
	ErrMsg     string
	RetryDelay time.Duration
}

// RescheduleParams groups parameters for JobRepository.Reschedule.
type RescheduleParams struct {
	JobID string
	RunAt time.Time
}

// JobRepository defines job store data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// ClaimDue atomically claims the highest-priority due pending or retrying
	// job of the given type, marking it running with a lease. Returns
	// model.ErrNoJobsDue when nothing is claimable.
	ClaimDue(ctx context.Context, params ClaimDueParams) (*model.Job, error)

	// WaitForNotification blocks until the store signals that new jobs of
	// the given type may be available, or ctx expires.
	WaitForNotification(ctx context.Context, jobType model.JobType) error

	// Heartbeat extends the lease of a running job still owned by workerID.
	// Returns false when ownership was lost (lease expired and reclaimed).
	Heartbeat(ctx context.Context, params HeartbeatParams) (bool, error)

	// MarkSucceeded transitions a running job to succeeded.
	MarkSucceeded(ctx context.Context, jobID string) (bool, error)

	// MarkFailed increments attempts and transitions the job to retrying
	// (attempts < max, next_run_at pushed out by RetryDelay) or
	// dead_lettered (attempts exhausted). Returns the updated job.
	MarkFailed(ctx context.Context, params FailJobParams) (*model.Job, error)

	// Reschedule moves a pending or retrying job's next_run_at.
	Reschedule(ctx context.Context, params RescheduleParams) (bool, error)

	Stats(ctx context.Context) (*model.JobStats, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)

	// RecentExecutions returns finished attempts for a job, newest first.
	RecentExecutions(ctx context.Context, jobID string, limit int) ([]*model.JobExecution, error)

	Delete(ctx context.Context, id string) error
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// DeleteOldJobsParams groups parameters for SweeperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// SweeperRepository defines job cleanup operations. All methods process
// bounded batches so the sweeper never holds long locks.
type SweeperRepository interface {
	// ReleaseExpiredLeases returns running jobs whose lease expired to the
	// pending state so another worker can reclaim them.
	ReleaseExpiredLeases(ctx context.Context, batchSize int) (int64, error)

	// DeleteOldJobs deletes terminal jobs with the given status older than
	// MaxAge. Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)

	// DeadLetterStalePending dead-letters pending jobs older than maxAge
	// that never got claimed, so forgotten work surfaces in alerts instead
	// of sitting in the queue forever.
	DeadLetterStalePending(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// CountDeadLetteredSince counts jobs dead-lettered after the given
	// instant, feeding the accumulation alert.
	CountDeadLetteredSince(ctx context.Context, since time.Time) (int64, error)
}

// MarkQueuedParams groups parameters for ScheduleRepository.MarkQueuedTx.
type MarkQueuedParams struct {
	ID  string
	Now time.Time
}

// ScheduleRepository defines recurring definition data operations.
type ScheduleRepository interface {
	Create(ctx context.Context, req *model.CreateScheduleRequest) (*model.ScheduleDefinition, error)
	GetByID(ctx context.Context, id string) (*model.ScheduleDefinition, error)
	List(ctx context.Context, limit, offset int) ([]*model.ScheduleDefinition, error)
	Update(ctx context.Context, id string, req model.UpdateScheduleRequest) (*model.ScheduleDefinition, error)
	Delete(ctx context.Context, id string) (bool, error)
	SetActive(ctx context.Context, id string, active bool) (*model.ScheduleDefinition, error)

	// FindDue finds active definitions whose interval elapsed. The list
	// is a snapshot; callers serialize per definition via
	// TryWithScheduleLock before acting on it.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduleDefinition, error)

	// MarkQueuedTx updates last_queued_at within an existing transaction.
	MarkQueuedTx(ctx context.Context, tx *sql.Tx, params MarkQueuedParams) (bool, error)

	// TryWithScheduleLock attempts a transaction-scoped advisory lock keyed
	// by the definition name. Return semantics:
	//   - (false, nil): lock held elsewhere; fn was not executed
	//   - (true, nil): lock acquired; fn executed and succeeded
	//   - (true, err): lock acquired; fn executed and failed
	TryWithScheduleLock(
		ctx context.Context,
		name string,
		fn func(context.Context, *sql.Tx) error,
	) (bool, error)
}

// JobIntrospector inspects live jobs for overrun decisions. "Live" means
// pending, retrying, or running with an unexpired lease.
type JobIntrospector interface {
	LiveJobExistsForSchedule(ctx context.Context, scheduleID string, now time.Time) (bool, error)
}

// JobScheduler defines the scheduler service contract.
type JobScheduler interface {
	// Tick expands due definitions into jobs; returns the number queued.
	Tick(ctx context.Context, now time.Time) (int, error)
}

// ApplySaleParams groups parameters for StockRepository.ApplySale.
type ApplySaleParams struct {
	Marketplace    model.Marketplace
	ExternalItemID string
	SaleID         string
	Quantity       int
}

// SetQuantityParams groups parameters for StockRepository.SetQuantity.
type SetQuantityParams struct {
	Marketplace model.Marketplace
	SKU         string
	Quantity    int
}

// StockRepository defines local catalog data operations backing the
// synchronous webhook handlers.
type StockRepository interface {
	GetBySKU(ctx context.Context, sku string) (*model.StockItem, error)
	GetByExternalItem(ctx context.Context, marketplace model.Marketplace, externalItemID string) (*model.StockItem, error)

	// ListByMarketplace pages through tracked items for a marketplace,
	// ordered by SKU. Full stock pushes walk the catalog with this.
	ListByMarketplace(ctx context.Context, marketplace model.Marketplace, limit, offset int) ([]*model.StockItem, error)

	// ApplySale records the sale and decrements stock in one transaction.
	// A sale id seen before is a no-op returning applied=false, which makes
	// the decrement safe to replay.
	ApplySale(ctx context.Context, params ApplySaleParams) (item *model.StockItem, applied bool, err error)

	SetQuantity(ctx context.Context, params SetQuantityParams) (bool, error)

	// RecordFeedback stores buyer feedback; duplicates return false.
	RecordFeedback(ctx context.Context, rec *model.FeedbackRecord) (bool, error)

	// EraseBuyer removes stored buyer data after an account deletion
	// notice. Returns the number of rows erased.
	EraseBuyer(ctx context.Context, marketplace model.Marketplace, buyerID string) (int64, error)
}

// EventLedger defines the durable record of processed webhook events. It
// backs dedup when the cache is unavailable and survives cache flushes.
type EventLedger interface {
	// MarkProcessed records the event key; returns false when the event was
	// already recorded, meaning this delivery is a replay.
	MarkProcessed(ctx context.Context, marketplace model.Marketplace, topic model.Topic, externalEventID string) (bool, error)

	// PurgeOlderThan drops ledger rows past the dedup horizon in one
	// bounded batch. Returns the number of rows removed.
	PurgeOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// CacheRepository defines the cache operations the dispatcher and gateway
// build on.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if absent. Returns true if
	// the key was set; false means it already existed. This is the event
	// dedup primitive.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// IncrementWindow increments a counter key, applying ttl when the key
	// is created. Backs shared fixed-window rate limiting.
	IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Health(ctx context.Context) error
}
