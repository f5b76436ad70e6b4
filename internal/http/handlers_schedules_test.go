package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
)

func stockSyncSchedule() *model.ScheduleDefinition {
	return &model.ScheduleDefinition{
		ID:          "sched-1",
		Name:        "hourly stock push",
		JobType:     model.JobTypeStockSync,
		Marketplace: model.MarketplaceTrendyol,
		Interval:    time.Hour,
		IsActive:    true,
	}
}

func TestSchedulesAPI_Create(t *testing.T) {
	f := newRouterFixture(t)

	f.schedules.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateScheduleRequest) (*model.ScheduleDefinition, error) {
			assert.Equal(t, "hourly stock push", req.Name)
			assert.Equal(t, model.JobTypeStockSync, req.JobType)
			assert.Equal(t, time.Hour, req.Interval)
			return stockSyncSchedule(), nil
		})

	rec := f.do(http.MethodPost, "/api/schedules", `{
		"name": "hourly stock push",
		"job_type": "stock_sync",
		"marketplace": "trendyol",
		"interval": 3600000000000
	}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var def model.ScheduleDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Equal(t, "sched-1", def.ID)
}

func TestSchedulesAPI_CreateRejectsShortInterval(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/api/schedules", `{
		"name": "too fast",
		"job_type": "stock_sync",
		"marketplace": "trendyol",
		"interval": 1000000000
	}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulesAPI_List(t *testing.T) {
	f := newRouterFixture(t)

	f.schedules.EXPECT().
		List(gomock.Any(), 50, 0).
		Return([]*model.ScheduleDefinition{stockSyncSchedule()}, nil)

	rec := f.do(http.MethodGet, "/api/schedules", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Schedules []*model.ScheduleDefinition `json:"schedules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Schedules, 1)
}

func TestSchedulesAPI_Update(t *testing.T) {
	f := newRouterFixture(t)

	f.schedules.EXPECT().
		Update(gomock.Any(), "sched-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, req model.UpdateScheduleRequest) (*model.ScheduleDefinition, error) {
			require.NotNil(t, req.Priority)
			assert.Equal(t, 10, *req.Priority)
			def := stockSyncSchedule()
			def.Priority = 10
			return def, nil
		})

	rec := f.do(http.MethodPut, "/api/schedules/sched-1", `{"priority": 10}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSchedulesAPI_Toggle(t *testing.T) {
	f := newRouterFixture(t)

	gomock.InOrder(
		f.schedules.EXPECT().
			GetByID(gomock.Any(), "sched-1").
			Return(stockSyncSchedule(), nil),
		f.schedules.EXPECT().
			SetActive(gomock.Any(), "sched-1", false).
			DoAndReturn(func(context.Context, string, bool) (*model.ScheduleDefinition, error) {
				def := stockSyncSchedule()
				def.IsActive = false
				return def, nil
			}),
	)

	rec := f.do(http.MethodPost, "/api/schedules/sched-1/toggle", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var def model.ScheduleDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.False(t, def.IsActive)
}

func TestSchedulesAPI_ToggleNotFound(t *testing.T) {
	f := newRouterFixture(t)

	f.schedules.EXPECT().
		GetByID(gomock.Any(), "missing").
		Return(nil, data.ErrScheduleNotFound)

	rec := f.do(http.MethodPost, "/api/schedules/missing/toggle", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulesAPI_DeleteNotFound(t *testing.T) {
	f := newRouterFixture(t)

	f.schedules.EXPECT().
		Delete(gomock.Any(), "missing").
		Return(false, nil)

	rec := f.do(http.MethodDelete, "/api/schedules/missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulesAPI_Delete(t *testing.T) {
	f := newRouterFixture(t)

	f.schedules.EXPECT().
		Delete(gomock.Any(), "sched-1").
		Return(true, nil)

	rec := f.do(http.MethodDelete, "/api/schedules/sched-1", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
