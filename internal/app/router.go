package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/aqarfund/aqar/internal/audit/http"
	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/menuadmin"
	"github.com/aqarfund/aqar/internal/observability"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
	"github.com/aqarfund/aqar/internal/visibility"
	"github.com/aqarfund/aqar/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	RBACMiddleware rbac.Middleware

	AuthHandler      *auth.Handler
	MeHandler        *visibility.Handler
	RBACHandler      *rbac.Handler
	MenuHandler      *menu.Handler
	MenuAdminHandler *menuadmin.Handler
	AuditHandler     *audithttp.Handler
	RPCHandler       http.Handler
	JobHandler       *jobs.Handler
	IntegrityScan    http.Handler
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
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

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.RPCHandler != nil {
		r.Handle("/rpc", params.RPCHandler)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireAuth)
		if params.MeHandler != nil {
			r.Route("/me", params.MeHandler.MountRoutes)
		}
		if params.RBACHandler != nil {
			r.Route("/rbac", params.RBACHandler.MountRoutes)
		}
		if params.MenuHandler != nil {
			r.Route("/menu", params.MenuHandler.MountRoutes)
		}
		r.Route("/admin/menu", func(r chi.Router) {
			if params.MenuAdminHandler != nil {
				params.MenuAdminHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.IntegrityScan != nil {
				r.With(
					params.RBACMiddleware.RequirePermission(shared.PermMenuManage),
					params.RBACMiddleware.RequireRole(shared.RoleSuperAdmin),
				).Method(http.MethodPost, "/integrity-scan", params.IntegrityScan)
			}
		})
	})

	return r
}
