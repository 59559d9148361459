// Package httptransport is the thin HTTP layer. Handlers decode, delegate
// to domain services and encode; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports infrastructure health for the readiness probe.
type HealthChecker func(r *http.Request) error

// NewRouter assembles the full route tree. All governed routes run behind
// the actor middleware; /healthz and /metrics stay open.
func NewRouter(log *slog.Logger, health HealthChecker, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(log))
	r.Use(Logger(log))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(g chi.Router) {
		g.Use(ActorContext)
		for _, h := range handlers {
			h.Register(g)
		}
	})
	return r
}
