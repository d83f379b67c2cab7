package observability

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReadyFunc probes whether the service can currently take work, for example
// by checking the generation engine's health endpoint.
type ReadyFunc func(ctx context.Context) error

// NewAdminRouter builds the admin HTTP surface: liveness, readiness, and the
// Prometheus scrape endpoint. A nil ready func makes /readyz always ready.
func NewAdminRouter(ready ReadyFunc) http.Handler {
	router := chi.NewRouter()

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			err := ready(r.Context())
			if err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "unavailable",
					"error":  err.Error(),
				})

				return
			}
		}

		respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	return router
}

func respondJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
