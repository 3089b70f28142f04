package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter wires the HTTP surface. Operational endpoints sit outside
// the throttled API subtree so probes and scrapes are never rejected
// under load.
func NewRouter(handlers *Handlers, health *HealthChecker, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recovery(logger))
	r.Use(Logging(logger))
	r.Use(CORS)

	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Throttle(1000))

		r.Route("/search", func(r chi.Router) {
			r.Post("/events", handlers.SearchEvents)
			r.Get("/autocomplete", handlers.Autocomplete)
			r.Get("/similar/{eventId}", handlers.SimilarEvents)
			r.Get("/popular", handlers.PopularEvents)
		})

		r.Route("/index", func(r chi.Router) {
			r.Post("/events", handlers.IndexEvent)
			r.Post("/events/bulk", handlers.BulkIndexEvents)
			r.Put("/events/{eventId}", handlers.UpdateEvent)
			r.Delete("/events/{eventId}", handlers.DeleteEvent)
			r.Get("/events/{eventId}/exists", handlers.EventExists)
		})
	})

	return r
}
