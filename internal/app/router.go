package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/edu-platform/edu-platform/internal/auth"
	"github.com/edu-platform/edu-platform/internal/observability"
	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/users"
	"github.com/edu-platform/edu-platform/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	// Authenticate resolves the bearer token into a principal; every route
	// except /auth/login and the ops endpoints runs behind it.
	Authenticate func(http.Handler) http.Handler

	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	UsersHandler *users.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with platform defaults.
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

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	authenticate := params.Authenticate
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/health", params.JobHandler.Health)
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				params.JobHandler.MountProtectedRoutes(r)
			})
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		if params.RBACHandler != nil {
			r.Route("/permissions", params.RBACHandler.MountPermissionRoutes)
			r.Route("/roles", params.RBACHandler.MountRoleRoutes)
			r.Route("/rbac", params.RBACHandler.MountIntegrityRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", func(r chi.Router) {
				params.UsersHandler.MountRoutes(r)
				if params.RBACHandler != nil {
					r.Route("/{id}/roles", params.RBACHandler.MountUserRoleRoutes)
				}
			})
		}
	})

	return r
}
