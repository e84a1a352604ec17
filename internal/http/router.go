package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"genqueue/internal/http/handlers"
	"genqueue/internal/middleware"
)

// Options configures the router beyond handler wiring.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	EventStream     http.Handler // websocket hub; nil when the process has no worker
}

// NewRouter assembles the API surface around the shared handler set.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(opts.AllowedOrigins))

	r.Get("/healthz", app.Health)

	r.Route("/api/v1", func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.EnqueueJob)
			r.Get("/{id}", app.GetJob)
		})
		r.Get("/queue/metrics", app.QueueMetrics)
	})

	if opts.EventStream != nil {
		r.Handle("/ws", opts.EventStream)
	}

	return r
}
