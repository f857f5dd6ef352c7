package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ventas-erp/ventas-erp/internal/masterdata/units"
	"github.com/ventas-erp/ventas-erp/internal/observability"
	"github.com/ventas-erp/ventas-erp/internal/platform/httpx"
	"github.com/ventas-erp/ventas-erp/internal/stock"
	"github.com/ventas-erp/ventas-erp/jobs"
)

// Pinger reports dependency liveness for /readyz. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	StockHandler *stock.Handler
	UnitsHandler *units.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	Pool         Pinger
}

// NewRouter constructs the chi.Router with the JSON API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.TypedProblem(w, http.StatusNotFound, "not_found", "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.TypedProblem(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool == nil {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := params.Pool.Ping(ctx); err != nil {
			params.Logger.Warn("readiness check failed", slog.Any("error", err))
			httpx.TypedProblem(w, http.StatusServiceUnavailable, "database_unavailable", "Database Unavailable", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.StockHandler != nil {
		params.StockHandler.MountRoutes(r)
	}
	if params.UnitsHandler != nil {
		params.UnitsHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
