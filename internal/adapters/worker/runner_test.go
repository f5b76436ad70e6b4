package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/mocks"
	"github.com/meschain/marketsync/internal/service"
)

type stubNotifier struct{}

func (stubNotifier) Subscribe(model.JobType) (func(), <-chan struct{}) {
	ch := make(chan struct{})
	close(ch)
	return func() {}, ch
}

func (stubNotifier) StopAll() {}

func workerTestConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:       1,
		JobLease:          60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		IdleWait:          time.Second,
	}
}

type runnerFixture struct {
	repo    *mocks.MockJobRepository
	handled chan *model.Job
	runner  *Runner
}

func newRunnerFixture(t *testing.T, cfg config.WorkerConfig, handler HandlerFunc) *runnerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &runnerFixture{
		repo:    mocks.NewMockJobRepository(ctrl),
		handled: make(chan *model.Job, 16),
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         f.repo,
		DefaultLease: cfg.JobLease,
		Notifier:     stubNotifier{},
	})
	require.NoError(t, err)

	if handler == nil {
		handler = func(_ context.Context, job *model.Job) error {
			f.handled <- job
			return nil
		}
	}

	runner, err := NewRunner(RunnerOptions{
		Jobs:     jobs,
		Handlers: map[model.JobType]HandlerFunc{model.JobTypeOrderSync: handler},
		Config:   cfg,
		WorkerID: "test-worker",
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}

func orderSyncJob() *model.Job {
	return &model.Job{
		ID:          "job-1",
		Type:        model.JobTypeOrderSync,
		Marketplace: model.MarketplaceTrendyol,
		Status:      model.JobStatusRunning,
		MaxAttempts: 3,
	}
}

// runUntil starts the runner and blocks until ready fires, then cancels
// and waits for a clean stop.
func runUntil(t *testing.T, r *Runner, ready <-chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("runner never reached the expected state")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRunner_ProcessesJobAndCompletes(t *testing.T) {
	f := newRunnerFixture(t, workerTestConfig(), nil)

	completed := make(chan struct{})
	gomock.InOrder(
		f.repo.EXPECT().
			ClaimDue(gomock.Any(), core.ClaimDueParams{
				JobType:      model.JobTypeOrderSync,
				WorkerID:     "test-worker-0",
				LeaseSeconds: 60,
			}).
			Return(orderSyncJob(), nil),
		f.repo.EXPECT().
			MarkSucceeded(gomock.Any(), "job-1").
			DoAndReturn(func(context.Context, string) (bool, error) {
				close(completed)
				return true, nil
			}),
	)
	f.repo.EXPECT().
		ClaimDue(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsDue).
		AnyTimes()

	runUntil(t, f.runner, completed)

	job := <-f.handled
	assert.Equal(t, "job-1", job.ID)
}

func TestRunner_FailedHandlerRecordsFailure(t *testing.T) {
	f := newRunnerFixture(t, workerTestConfig(), func(context.Context, *model.Job) error {
		return errors.New("marketplace exploded")
	})

	failed := make(chan struct{})
	gomock.InOrder(
		f.repo.EXPECT().
			ClaimDue(gomock.Any(), gomock.Any()).
			Return(orderSyncJob(), nil),
		f.repo.EXPECT().
			MarkFailed(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, params core.FailJobParams) (*model.Job, error) {
				assert.Equal(t, "job-1", params.JobID)
				assert.Equal(t, "test-worker-0", params.WorkerID)
				assert.Contains(t, params.ErrMsg, "marketplace exploded")

				job := orderSyncJob()
				job.Attempts = 1
				job.Status = model.JobStatusRetrying
				close(failed)
				return job, nil
			}),
	)
	f.repo.EXPECT().
		ClaimDue(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsDue).
		AnyTimes()

	runUntil(t, f.runner, failed)
}

func TestRunner_UnregisteredTypeFailsJob(t *testing.T) {
	f := newRunnerFixture(t, workerTestConfig(), nil)

	// The store hands back a type the pool never registered; the job must
	// settle instead of holding its lease until expiry.
	stray := orderSyncJob()
	stray.Type = model.JobTypeStockSync

	failed := make(chan struct{})
	gomock.InOrder(
		f.repo.EXPECT().
			ClaimDue(gomock.Any(), gomock.Any()).
			Return(stray, nil),
		f.repo.EXPECT().
			MarkFailed(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, params core.FailJobParams) (*model.Job, error) {
				assert.Contains(t, params.ErrMsg, "no handler for job type stock_sync")

				job := orderSyncJob()
				job.Status = model.JobStatusRetrying
				close(failed)
				return job, nil
			}),
	)
	f.repo.EXPECT().
		ClaimDue(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsDue).
		AnyTimes()

	runUntil(t, f.runner, failed)
}

func TestRunner_LostOwnershipCancelsHandler(t *testing.T) {
	cfg := workerTestConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond

	f := newRunnerFixture(t, cfg, func(ctx context.Context, _ *model.Job) error {
		// Simulate a long call that only stops when the lease is gone.
		<-ctx.Done()
		return ctx.Err()
	})

	failed := make(chan struct{})
	f.repo.EXPECT().
		ClaimDue(gomock.Any(), gomock.Any()).
		Return(orderSyncJob(), nil)
	f.repo.EXPECT().
		Heartbeat(gomock.Any(), gomock.Any()).
		Return(false, nil)
	f.repo.EXPECT().
		MarkFailed(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.FailJobParams) (*model.Job, error) {
			assert.Contains(t, params.ErrMsg, "lease ownership lost")

			job := orderSyncJob()
			job.Attempts = 1
			job.Status = model.JobStatusRetrying
			close(failed)
			return job, nil
		})
	f.repo.EXPECT().
		ClaimDue(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsDue).
		AnyTimes()

	runUntil(t, f.runner, failed)
}

func TestRunner_StopsWhenIdle(t *testing.T) {
	f := newRunnerFixture(t, workerTestConfig(), nil)

	var once sync.Once
	polled := make(chan struct{})
	f.repo.EXPECT().
		ClaimDue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, core.ClaimDueParams) (*model.Job, error) {
			once.Do(func() { close(polled) })
			return nil, model.ErrNoJobsDue
		}).
		AnyTimes()

	runUntil(t, f.runner, polled)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	assert.ErrorContains(t, err, "JobService is required")

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         mocks.NewMockJobRepository(ctrl),
		DefaultLease: time.Minute,
		Notifier:     stubNotifier{},
	})
	require.NoError(t, err)

	_, err = NewRunner(RunnerOptions{Jobs: jobs})
	assert.ErrorContains(t, err, "at least one handler")
}
