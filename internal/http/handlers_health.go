package httpx

import (
	"context"
	"net/http"

	"github.com/meschain/marketsync/internal/core"
)

// Pinger checks a backing store's reachability. pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers serves the liveness endpoint. Either dependency may be
// nil; only wired stores are checked.
type HealthHandlers struct {
	DB    Pinger
	Cache core.CacheRepository
}

// Healthz pings the database and cache. Any failure answers 503 naming
// the broken component.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.DB != nil {
		checks["database"] = "ok"
		if err := h.DB.Ping(r.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
	}
	if h.Cache != nil {
		checks["cache"] = "ok"
		if err := h.Cache.Health(r.Context()); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(code)
		return
	}
	WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}
