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

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
)

func TestJobsAPI_ListWithFilters(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
			require.NotNil(t, opts.Type)
			assert.Equal(t, model.JobTypeOrderSync, *opts.Type)
			require.NotNil(t, opts.Status)
			assert.Equal(t, model.JobStatusPending, *opts.Status)
			assert.Equal(t, 10, opts.Limit)
			return []*model.Job{{ID: "job-1", Type: model.JobTypeOrderSync}}, nil
		})

	rec := f.do(http.MethodGet, "/api/jobs?type=order_sync&status=pending&limit=10", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Jobs []*model.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "job-1", resp.Jobs[0].ID)
}

func TestJobsAPI_ListRejectsBadFilter(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodGet, "/api/jobs?type=bogus", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsAPI_Stats(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		Stats(gomock.Any()).
		Return(&model.JobStats{Pending: 3, DeadLettered: 1}, nil)

	rec := f.do(http.MethodGet, "/api/jobs/stats", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.DeadLettered)
}

func TestJobsAPI_RunNow(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, model.JobTypeStockSync, req.Type)
			assert.Equal(t, model.MarketplaceTrendyol, req.Marketplace)
			assert.JSONEq(t, `{"full": true}`, string(req.Params))
			return &model.Job{
				ID:          "job-7",
				Type:        req.Type,
				Marketplace: req.Marketplace,
				Status:      model.JobStatusPending,
			}, nil
		})

	rec := f.do(http.MethodPost, "/api/jobs/stock_sync/run",
		`{"marketplace": "trendyol", "params": {"full": true}}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "job-7", job.ID)
}

func TestJobsAPI_RunNowDefaultsParams(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.JSONEq(t, `{}`, string(req.Params))
			return &model.Job{ID: "job-8", Type: req.Type}, nil
		})

	rec := f.do(http.MethodPost, "/api/jobs/order_sync/run", `{"marketplace": "ozon"}`, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestJobsAPI_RunNowRejectsBadType(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/api/jobs/bogus/run", `{"marketplace": "trendyol"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsAPI_GetByIDNotFound(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		GetByID(gomock.Any(), "missing").
		Return(nil, data.ErrJobNotFound)

	rec := f.do(http.MethodGet, "/api/jobs/missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsAPI_History(t *testing.T) {
	f := newRouterFixture(t)

	finished := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.jobs.EXPECT().
		RecentExecutions(gomock.Any(), "job-1", 5).
		Return([]*model.JobExecution{
			{JobID: "job-1", Status: model.JobStatusSucceeded, Attempts: 2, FinishedAt: &finished},
		}, nil)

	rec := f.do(http.MethodGet, "/api/jobs/job-1/history?limit=5", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Executions []*model.JobExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Executions, 1)
	assert.Equal(t, model.JobStatusSucceeded, resp.Executions[0].Status)
}

func TestJobsAPI_DeleteConflictWhileRunning(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		Delete(gomock.Any(), "job-1").
		Return(data.ErrJobNotDeletable)

	rec := f.do(http.MethodDelete, "/api/jobs/job-1", "", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobsAPI_Delete(t *testing.T) {
	f := newRouterFixture(t)

	f.jobs.EXPECT().
		Delete(gomock.Any(), "job-1").
		Return(nil)

	rec := f.do(http.MethodDelete, "/api/jobs/job-1", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestJobsAPI_PurgeDrainsBatches(t *testing.T) {
	f := newRouterFixture(t)

	gomock.InOrder(
		f.sweeper.EXPECT().
			DeleteOldJobs(gomock.Any(), core.DeleteOldJobsParams{
				Status:    model.JobStatusSucceeded,
				MaxAge:    24 * time.Hour,
				BatchSize: defaultPurgeBatch,
			}).
			Return(int64(defaultPurgeBatch), nil),
		f.sweeper.EXPECT().
			DeleteOldJobs(gomock.Any(), gomock.Any()).
			Return(int64(0), nil),
	)

	rec := f.do(http.MethodPost, "/api/jobs/purge",
		`{"status": "succeeded", "older_than": "24h"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(defaultPurgeBatch), resp["deleted"])
}

func TestJobsAPI_PurgeRejectsNonTerminalStatus(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/api/jobs/purge",
		`{"status": "running", "older_than": "24h"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsAPI_PurgeRejectsBadDuration(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/api/jobs/purge",
		`{"status": "succeeded", "older_than": "yesterday"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
