package httpx

import (
	"errors"
	"net/http"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/gateway"
)

// GatewayHandlers exposes the gateway's rate limit and circuit state for
// the admin surface.
type GatewayHandlers struct {
	Client *gateway.Client
}

// Limits reports the per-marketplace budget and usage snapshot.
func (h *GatewayHandlers) Limits(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"limits": h.Client.Limiter().Snapshot()})
}

// Circuits reports every circuit breaker state.
func (h *GatewayHandlers) Circuits(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"circuits": h.Client.Breaker().States()})
}

// ResetCircuits force-closes every circuit for one marketplace.
func (h *GatewayHandlers) ResetCircuits(w http.ResponseWriter, r *http.Request) {
	marketplace := model.Marketplace(r.PathValue("marketplace"))
	if !marketplace.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "unknown_marketplace",
			Err:     errors.New("unknown marketplace"),
		})
		return
	}

	reset := h.Client.Breaker().Reset(marketplace)
	WriteJSON(w, http.StatusOK, map[string]int{"reset": reset})
}

// Connectivity probes a marketplace's ping endpoint and reports the
// result. A failed probe is still a 200; the report says what happened.
func (h *GatewayHandlers) Connectivity(w http.ResponseWriter, r *http.Request) {
	marketplace := model.Marketplace(r.PathValue("marketplace"))

	report, err := h.Client.ConnectivityTest(r.Context(), marketplace)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "connectivity_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
