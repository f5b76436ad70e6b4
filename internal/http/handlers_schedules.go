package httpx

import (
	"errors"
	"net/http"

	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/service"
)

// ScheduleHandlers provides HTTP handlers for recurring definition CRUD.
type ScheduleHandlers struct {
	Svc *service.ScheduleService
}

// Create handles new schedule definitions.
func (h *ScheduleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	def, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "create_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, def)
}

// List handles paginated schedule listing.
func (h *ScheduleHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	defs, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: errors.New("failed to list schedules")})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"schedules": defs})
}

// GetByID handles single schedule retrieval.
func (h *ScheduleHandlers) GetByID(w http.ResponseWriter, r *http.Request) {
	def, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeScheduleError(w, err, "get_failed")
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// Update handles partial schedule updates.
func (h *ScheduleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	def, err := h.Svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		if errors.Is(err, data.ErrScheduleNotFound) {
			h.writeScheduleError(w, err, "update_failed")
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "update_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// Delete removes a schedule definition. Jobs it already queued are
// untouched.
func (h *ScheduleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "delete_failed", Err: errors.New("failed to delete schedule")})
		return
	}
	if !deleted {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "schedule_not_found", Err: errors.New("schedule not found")})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle flips the is_active flag.
func (h *ScheduleHandlers) Toggle(w http.ResponseWriter, r *http.Request) {
	def, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeScheduleError(w, err, "toggle_failed")
		return
	}

	updated, err := h.Svc.SetActive(r.Context(), def.ID, !def.IsActive)
	if err != nil {
		h.writeScheduleError(w, err, "toggle_failed")
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *ScheduleHandlers) writeScheduleError(w http.ResponseWriter, err error, code string) {
	if errors.Is(err, data.ErrScheduleNotFound) {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "schedule_not_found", Err: errors.New("schedule not found")})
		return
	}
	WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: code, Err: errors.New("schedule operation failed")})
}
