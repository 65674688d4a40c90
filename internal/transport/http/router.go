package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verisync/internal/platform/middleware"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewRouter assembles the full HTTP surface.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer, logger *slog.Logger, checkers map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(chimiddleware.RealIP)

	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/webhook", h.PlatformWebhook)
	r.Post("/webhook/provider/{tenant}", h.ProviderWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/company", h.GetCompany)
		r.Patch("/company", h.PatchCompany)
		r.Route("/document-types", func(r chi.Router) {
			r.Get("/", h.ListMappings)
			r.Post("/", h.CreateMapping)
			r.Get("/{id}", h.GetMapping)
			r.Patch("/{id}", h.UpdateMapping)
			r.Delete("/{id}", h.DeleteMapping)
		})
	})

	r.Get("/healthz", healthHandler(checkers))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func healthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checkers))
		for name, checker := range checkers {
			if err := checker.Health(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	}
}
