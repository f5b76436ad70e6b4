package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/mocks"
)

func newTestScheduleService(t *testing.T) (*ScheduleService, *mocks.MockScheduleRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	repo := mocks.NewMockScheduleRepository(ctrl)
	svc, err := NewScheduleService(ScheduleServiceOptions{Repo: repo})
	require.NoError(t, err)
	return svc, repo
}

func TestScheduleService_CreateValidates(t *testing.T) {
	svc, _ := newTestScheduleService(t)

	_, err := svc.Create(context.Background(), &model.CreateScheduleRequest{
		Name:        "too-fast",
		JobType:     model.JobTypeStockSync,
		Marketplace: model.MarketplaceTrendyol,
		Interval:    30 * time.Second,
	})
	assert.ErrorContains(t, err, "interval must be at least one minute")
}

func TestScheduleService_Create(t *testing.T) {
	svc, repo := newTestScheduleService(t)
	ctx := context.Background()

	req := &model.CreateScheduleRequest{
		Name:        "hourly-price-sync",
		JobType:     model.JobTypePriceSync,
		Marketplace: model.MarketplaceEbay,
		Interval:    time.Hour,
	}
	repo.EXPECT().
		Create(ctx, req).
		Return(&model.ScheduleDefinition{ID: "def-1", Name: req.Name, IsActive: true}, nil)

	def, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "def-1", def.ID)
	assert.True(t, def.IsActive)
}

func TestScheduleService_UpdateRejectsShortInterval(t *testing.T) {
	svc, _ := newTestScheduleService(t)

	short := 5 * time.Second
	_, err := svc.Update(context.Background(), "def-1", model.UpdateScheduleRequest{Interval: &short})
	assert.ErrorContains(t, err, "at least one minute")
}

func TestScheduleService_SetActive(t *testing.T) {
	svc, repo := newTestScheduleService(t)
	ctx := context.Background()

	repo.EXPECT().
		SetActive(ctx, "def-1", false).
		Return(&model.ScheduleDefinition{ID: "def-1", IsActive: false}, nil)

	def, err := svc.SetActive(ctx, "def-1", false)
	require.NoError(t, err)
	assert.False(t, def.IsActive)
}

func TestScheduleService_ListClampsPagination(t *testing.T) {
	svc, repo := newTestScheduleService(t)
	ctx := context.Background()

	repo.EXPECT().
		List(ctx, 50, 0).
		Return([]*model.ScheduleDefinition{}, nil)

	_, err := svc.List(ctx, -1, -1)
	require.NoError(t, err)
}
