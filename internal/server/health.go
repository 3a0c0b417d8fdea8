package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const readinessTimeout = 5 * time.Second

// ReadinessProbe reports whether the backend can serve requests.
type ReadinessProbe func(ctx context.Context) error

func registerHealthRoutes(r chi.Router, version, commit, buildDate string, ready ReadinessProbe, metrics http.Handler) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readiness", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := ready(ctx); err != nil {
				respondProblem(w, r, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"version":   version,
			"commit":    commit,
			"buildDate": buildDate,
		})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
}
