package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	cashflowhttp "github.com/odyssey-erp/cashflow/internal/cashflow/http"
	"github.com/odyssey-erp/cashflow/internal/observability"
	"github.com/odyssey-erp/cashflow/internal/platform/httpx"
	"github.com/odyssey-erp/cashflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	CashflowHandler *cashflowhttp.Handler
	JobsHandler     *jobs.Handler
	Metrics         *observability.Metrics
	// Ready checks backing services for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	bounded := RequestTimeout(params.Config)
	r.Group(func(r chi.Router) {
		r.Use(bounded)
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if params.Ready != nil {
				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer cancel()
				if err := params.Ready(ctx); err != nil {
					params.Logger.Warn("readiness check failed", slog.Any("error", err))
					httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "")
					return
				}
			}
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
		})

		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
		if params.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
		}
	})

	// The event stream outlives the request timeout; every other cash-flow route is bounded.
	if params.CashflowHandler != nil {
		params.CashflowHandler.MountRoutes(r, bounded)
	}
	return r
}
