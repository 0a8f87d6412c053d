// Package api wires the HTTP surface: routing, middleware, error and
// response envelopes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/pkg/config"
)

// Pinger is the slice of the database handle health checks need.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// IngestHandlers groups the pieces the ingest routes are built from.
type IngestHandlers struct {
	// Auth verifies request signatures and resolves the tenant.
	Auth func(http.Handler) http.Handler
	// RateLimit throttles per tenant, after Auth.
	RateLimit func(http.Handler) http.Handler
	// Event and Batch are the ingest endpoints.
	Event http.HandlerFunc
	Batch http.HandlerFunc
}

// NewRouter builds the service router.
func NewRouter(ingest IngestHandlers, db Pinger, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestLogger(log))
	r.Use(PrometheusMiddleware)
	r.Use(Recoverer(log))

	r.Route("/v1/ingest", func(r chi.Router) {
		r.Use(ingest.Auth)
		r.Use(ingest.RateLimit)
		r.Post("/", ingest.Event)
		r.Post("/batch", ingest.Batch)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Warn("health check failed", zap.Error(err))
			JSONError(w, &Error{
				Code:    ErrCodeInternalError,
				Message: "database unavailable",
				Status:  http.StatusServiceUnavailable,
			})
			return
		}
		OK(w, map[string]string{
			"status":  "ok",
			"version": config.Version,
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
