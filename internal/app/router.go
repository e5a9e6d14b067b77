package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/ledger"
	"github.com/brightbooks/brightbooks/internal/matching"
	"github.com/brightbooks/brightbooks/internal/observability"
	"github.com/brightbooks/brightbooks/internal/settlement"
	"github.com/brightbooks/brightbooks/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	MatchingHandler   *matching.Handler
	SettlementHandler *settlement.Handler
	LedgerHandler     *ledger.Handler
	BillingHandler    *billing.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Brightbooks defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/recon", func(r chi.Router) {
		r.Use(TenantMiddleware)
		if params.MatchingHandler != nil {
			params.MatchingHandler.MountRoutes(r)
		}
		if params.SettlementHandler != nil {
			params.SettlementHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.JobsHandler != nil {
			params.JobsHandler.MountRoutes(r)
		}
	})

	return r
}
