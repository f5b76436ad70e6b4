package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/config"
	"github.com/meschain/marketsync/internal/mocks"
	"github.com/meschain/marketsync/internal/service"
)

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	assert.ErrorContains(t, err, "sweeper service is required")
}

func TestRunner_RunsInitialSweepAndStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	repo := mocks.NewMockSweeperRepository(ctrl)
	repo.EXPECT().ReleaseExpiredLeases(gomock.Any(), 100).Return(int64(0), nil)
	repo.EXPECT().DeadLetterStalePending(gomock.Any(), 24*time.Hour, 100).Return(int64(0), nil)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2)

	svc, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo: repo,
		Config: config.SweeperConfig{
			Interval:           time.Minute,
			BatchSize:          100,
			PendingMaxAge:      24 * time.Hour,
			SucceededMaxAge:    7 * 24 * time.Hour,
			DeadLetteredMaxAge: 30 * 24 * time.Hour,
			LedgerMaxAge:       7 * 24 * time.Hour,
		},
	})
	require.NoError(t, err)

	runner, err := NewRunner(RunnerOptions{Sweeper: svc})
	require.NoError(t, err)

	// The initial sweep still runs once; the loop then observes the
	// cancelled context and exits cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, runner.Run(ctx))
}
