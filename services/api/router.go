package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if a.cfg.Middleware != nil {
		r.Use(a.cfg.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.cfg.RequestTimeout))

	allowed := a.cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	if a.cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	mutations := func(next http.Handler) http.Handler { return next }
	if a.cfg.RateLimitMutations > 0 {
		mutations = httprate.Limit(a.cfg.RateLimitMutations, a.cfg.RateLimitWindow,
			httprate.WithKeyByRealIP(),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				respondError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			}),
		)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/internal/jobs/process", a.handleProcessJob)

		r.Group(func(r chi.Router) {
			r.Use(a.withIdentity)

			r.Get("/shares/{id}", a.handleGetShare)
			r.Get("/shares/{id}/stats", a.handleShareStats)
			r.Get("/jobs/{id}", a.handleGetJob)
			r.Get("/generations", a.handleListGenerations)
			r.Get("/generations/{id}", a.handleGetGeneration)

			r.Group(func(r chi.Router) {
				r.Use(mutations)
				r.Post("/shares", a.handleCreateShare)
				r.Post("/jobs", a.handleCreateJob)
				r.Post("/generations", a.handleCreateGeneration)
				r.Post("/generations/{id}/thumbnail", a.handleSetThumbnail)
			})
		})
	})

	return r, nil
}
