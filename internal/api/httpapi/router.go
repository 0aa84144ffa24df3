// Package httpapi serves the JSON HTTP API: carrier webhooks, tracking queries and
// mutations, the realtime event stream and the API docs.
package httpapi

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	SwaggerPath    string
	AllowedOrigins []string
	Readiness      map[string]Pinger
}

type API struct {
	svc      TrackingService
	hub      Realtime
	verifier TokenVerifier
	opts     Options
	log      *logger.Logger
}

func New(svc TrackingService, hub Realtime, verifier TokenVerifier, opts Options, log *logger.Logger) *API {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &API{
		svc:      svc,
		hub:      hub,
		verifier: verifier,
		opts:     opts,
		log:      logger.OrNop(log).With("component", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.log, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.readyz)
	r.Get("/swagger.json", a.swaggerJSON)
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/{carrier}", a.webhook)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(a.verifier, a.log))

			r.Route("/trackings", func(r chi.Router) {
				r.Post("/", a.createTracking)
				r.Get("/delayed", a.listDelayed)
				r.Get("/by-carrier/{carrier}/{number}", a.getByCarrierNumber)

				r.Route("/{trackingId}", func(r chi.Router) {
					r.Get("/", a.getTracking)
					r.Delete("/", a.archive)
					r.Get("/timeline", a.timeline)
					r.Get("/summary", a.summary)
					r.Post("/events", a.manualEvent)
					r.Post("/predictions", a.predictions)
					r.Post("/exceptions", a.addException)
					r.Post("/exceptions/{exceptionId}/resolve", a.resolveException)
				})
			})
			r.Get("/orders/{orderId}/trackings", a.listByOrder)
		})

		r.Route("/realtime", func(r chi.Router) {
			r.Get("/stream", a.stream)
			r.Post("/connections/{connectionId}/commands", a.command)
		})
	})

	return r
}

func (a *API) swaggerJSON(w http.ResponseWriter, r *http.Request) {
	if a.opts.SwaggerPath == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(a.opts.SwaggerPath); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, a.opts.SwaggerPath)
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.opts.Readiness))
	for name, p := range a.opts.Readiness {
		if err := p.Ping(ctx); err != nil {
			a.log.Warn("readiness check failed", "dependency", name, "error", err.Error())
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}
	writeJSON(w, a.log, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}
