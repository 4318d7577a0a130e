package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/ingest"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/metrics"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/queue"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// RouterConfig holds every dependency needed to build the HTTP router,
// populated in cmd/server after all components are constructed.
type RouterConfig struct {
	Store    store.Store
	Queue    *queue.Queue
	Ingester *ingest.Ingester
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// NewRouter builds the fully configured Chi router. Routes live under
// /api/v1; /healthz and /metrics are mounted at the root.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Store)
	r.Get("/healthz", health.Check)
	r.Handle("/metrics", cfg.Metrics.Handler())

	buildHandler := NewBuildHandler(cfg.Ingester, cfg.Queue, cfg.Logger)
	artifactHandler := NewArtifactHandler(cfg.Store, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireCredential)
			r.Post("/builds", buildHandler.Submit)
		})

		r.Get("/builds/{jobId}", func(w http.ResponseWriter, r *http.Request) {
			buildHandler.Status(w, r, chi.URLParam(r, "jobId"))
		})
		r.Get("/builds/{jobId}/artifacts", func(w http.ResponseWriter, r *http.Request) {
			artifactHandler.ListByJob(w, r, chi.URLParam(r, "jobId"))
		})
		r.Get("/artifacts/{id}", func(w http.ResponseWriter, r *http.Request) {
			artifactHandler.Download(w, r, chi.URLParam(r, "id"))
		})
	})

	return r
}
