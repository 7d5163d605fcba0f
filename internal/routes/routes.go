package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies bundles what the route table needs
type Dependencies struct {
	Access   *handlers.AccessHandler
	Findings *handlers.FindingHandler
	Admin    *handlers.AdminHandler
	Sessions *auth.SessionIssuer
	Limiter  middleware.RouteLimiter
	IPConfig *pkghttp.IPConfig
	DB       handlers.Pinger
	Metrics  http.Handler
	Logger   *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	// Probes are never rate limited
	router.Get("/health", handlers.Health(deps.DB))
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter, deps.IPConfig, deps.Logger))

		// Public
		r.Post("/access/validate", deps.Access.Validate)

		// Privileged session required
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(deps.Sessions))
			r.Use(auth.RequireRole(models.AccessRolePrivileged))

			r.Get("/findings", deps.Findings.List)
			r.Get("/findings/{id}", deps.Findings.Get)
			r.Patch("/findings/{id}/status", deps.Findings.UpdateStatus)

			r.Get("/admin/access-attempts", deps.Admin.GetAccessAttempts)
			r.Get("/admin/scans", deps.Admin.GetScans)
			r.Put("/admin/scans/{pipeline}/interval", deps.Admin.UpdateScanInterval)
			r.Post("/admin/scans/{pipeline}/run", deps.Admin.RunScan)
		})
	})
}
