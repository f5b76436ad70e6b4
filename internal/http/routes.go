package httpx

import (
	"log/slog"
	"net/http"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/gateway"
	"github.com/meschain/marketsync/internal/service"
	"github.com/meschain/marketsync/internal/webhook"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs      *service.JobService
	Schedules *service.ScheduleService
	Sweeper   core.SweeperRepository
	Gateway   *gateway.Client

	Verifier   *webhook.Verifier
	Dispatcher *webhook.Dispatcher
	// WebhookMaxBodyBytes caps inbound webhook payload size.
	WebhookMaxBodyBytes int64

	// DB and Cache back the health endpoint; either may be nil.
	DB    Pinger
	Cache core.CacheRepository

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	if services.Verifier != nil && services.Dispatcher != nil {
		webhookHandlers := &WebhookHandlers{
			Verifier:     services.Verifier,
			Dispatcher:   services.Dispatcher,
			MaxBodyBytes: services.WebhookMaxBodyBytes,
			Logger:       services.Logger,
		}
		mux.HandleFunc("POST /webhooks/{marketplace}", webhookHandlers.Receive)
	}

	registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Sweeper: services.Sweeper})
	registerScheduleRoutes(mux, &ScheduleHandlers{Svc: services.Schedules})

	if services.Gateway != nil {
		registerGatewayRoutes(mux, &GatewayHandlers{Client: services.Gateway})
	}

	healthHandlers := &HealthHandlers{DB: services.DB, Cache: services.Cache}
	mux.HandleFunc("GET /healthz", healthHandlers.Healthz)
	mux.HandleFunc("HEAD /healthz", healthHandlers.Healthz)

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("GET /api/jobs", h.List)
	mux.HandleFunc("GET /api/jobs/stats", h.Stats)
	mux.HandleFunc("POST /api/jobs/purge", h.Purge)
	mux.HandleFunc("POST /api/jobs/{type}/run", h.RunNow)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetByID)
	mux.HandleFunc("GET /api/jobs/{id}/history", h.History)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.Delete)
}

func registerScheduleRoutes(mux *http.ServeMux, h *ScheduleHandlers) {
	registerCRUD(mux, crudRoutes{
		Base:    "/api/schedules",
		Create:  h.Create,
		List:    h.List,
		GetByID: h.GetByID,
		Update:  h.Update,
		Delete:  h.Delete,
	})
	mux.HandleFunc("POST /api/schedules/{id}/toggle", h.Toggle)
}

func registerGatewayRoutes(mux *http.ServeMux, h *GatewayHandlers) {
	mux.HandleFunc("GET /api/gateway/limits", h.Limits)
	mux.HandleFunc("GET /api/gateway/circuits", h.Circuits)
	mux.HandleFunc("POST /api/gateway/circuits/{marketplace}/reset", h.ResetCircuits)
	mux.HandleFunc("GET /api/gateway/connectivity/{marketplace}", h.Connectivity)
}

// crudRoutes registers standard CRUD routes for a resource base path.
type crudRoutes struct {
	Base       string
	Create     http.HandlerFunc
	List       http.HandlerFunc
	GetByID    http.HandlerFunc
	Update     http.HandlerFunc
	Delete     http.HandlerFunc
	Middleware func(http.Handler) http.Handler
}

func registerCRUD(mux *http.ServeMux, cfg crudRoutes) {
	if cfg.Base == "" {
		panic("registerCRUD: Base must not be empty") //nolint:forbidigo // Fail fast during server setup.
	}
	if cfg.Create == nil ||
		cfg.List == nil ||
		cfg.GetByID == nil ||
		cfg.Update == nil ||
		cfg.Delete == nil {
		panic("registerCRUD: nil handler for base " + cfg.Base) //nolint:forbidigo // Fail fast during server setup.
	}

	wrap := func(h http.HandlerFunc) http.Handler {
		if cfg.Middleware != nil {
			return cfg.Middleware(h)
		}
		return h
	}
	mux.Handle("POST "+cfg.Base, wrap(cfg.Create))
	mux.Handle("GET "+cfg.Base, wrap(cfg.List))
	mux.Handle("GET "+cfg.Base+"/{id}", wrap(cfg.GetByID))
	mux.Handle("PUT "+cfg.Base+"/{id}", wrap(cfg.Update))
	mux.Handle("DELETE "+cfg.Base+"/{id}", wrap(cfg.Delete))
}
