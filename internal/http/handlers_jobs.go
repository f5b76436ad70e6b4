// Package httpx provides the HTTP surface of the marketplace sync
// service: webhook intake, the admin JSON API and the health endpoint.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/service"
)

const (
	defaultListLimit     = 50
	defaultHistoryLimit  = 20
	defaultPurgeBatch    = 500
	defaultPurgeMaxLoops = 100
)

// JobHandlers provides HTTP handlers for job admin operations.
type JobHandlers struct {
	Svc     *service.JobService
	Sweeper core.SweeperRepository
}

// List handles filtered job listing for the admin surface.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts := &model.JobListOptions{
		Limit:  parseIntQuery(r, "limit", defaultListLimit),
		Offset: parseIntQuery(r, "offset", 0),
	}
	if v := r.URL.Query().Get("type"); v != "" {
		jt := model.JobType(v)
		if !jt.Valid() {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_filter", Err: errors.New("invalid job type")})
			return
		}
		opts.Type = &jt
	}
	if v := r.URL.Query().Get("marketplace"); v != "" {
		m := model.Marketplace(v)
		if !m.Valid() {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_filter", Err: errors.New("invalid marketplace")})
			return
		}
		opts.Marketplace = &m
	}
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.JobStatus(v)
		if !s.Valid() {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_filter", Err: errors.New("invalid status")})
			return
		}
		opts.Status = &s
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: errors.New("failed to list jobs")})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Stats handles the aggregate lifecycle counts endpoint.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: errors.New("failed to get job stats")})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// RunNow enqueues an immediate job of the path's type.
func (h *JobHandlers) RunNow(w http.ResponseWriter, r *http.Request) {
	jobType := model.JobType(r.PathValue("type"))

	var body struct {
		Marketplace model.Marketplace `json:"marketplace"`
		Params      json.RawMessage   `json:"params,omitempty"`
		Priority    int               `json:"priority,omitempty"`
		MaxAttempts int               `json:"max_attempts,omitempty"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if len(body.Params) == 0 {
		body.Params = json.RawMessage(`{}`)
	}

	req := &model.CreateJobRequest{
		Type:        jobType,
		Marketplace: body.Marketplace,
		Params:      body.Params,
		Priority:    body.Priority,
		MaxAttempts: body.MaxAttempts,
	}
	job, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "create_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// GetByID handles single job retrieval.
func (h *JobHandlers) GetByID(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: errors.New("failed to get job")})
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// History returns recent finished attempts for a job.
func (h *JobHandlers) History(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultHistoryLimit)

	executions, err := h.Svc.RecentExecutions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "history_failed", Err: errors.New("failed to get job history")})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"executions": executions})
}

// Delete removes a terminal job.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, data.ErrJobNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")})
	case errors.Is(err, data.ErrJobNotDeletable), errors.Is(err, data.ErrJobLeased):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "job_not_deletable", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "delete_failed", Err: errors.New("failed to delete job")})
	}
}

// Purge triggers an on-demand retention sweep for one terminal status.
func (h *JobHandlers) Purge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status    model.JobStatus `json:"status"`
		OlderThan string          `json:"older_than"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if !body.Status.Terminal() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_status",
			Err:     errors.New("only terminal jobs can be purged"),
		})
		return
	}
	maxAge, err := time.ParseDuration(body.OlderThan)
	if err != nil || maxAge <= 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_age",
			Err:     errors.New("older_than must be a positive duration"),
		})
		return
	}

	var deleted int64
	for range defaultPurgeMaxLoops {
		count, err := h.Sweeper.DeleteOldJobs(r.Context(), core.DeleteOldJobsParams{
			Status:    body.Status,
			MaxAge:    maxAge,
			BatchSize: defaultPurgeBatch,
		})
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "purge_failed", Err: errors.New("purge failed")})
			return
		}
		deleted += count
		if count == 0 {
			break
		}
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
