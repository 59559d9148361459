package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// RequestID takes the inbound X-Request-ID or mints one, and stamps it on
// the context and the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), rid)))
	})
}

// Recovery converts panics into 500 responses.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.ErrorContext(r.Context(), "panic in handler",
						"path", r.URL.Path, "panic", rec)
					shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger emits one access log line per request.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(started).Milliseconds(),
				"request_id", requestcontext.RequestID(r.Context()),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ActorContext resolves the acting identity from headers. X-Actor-ID is
// mandatory for every governed route; org and branch scope headers are
// optional. Authentication itself happens upstream at the API gateway.
func ActorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Actor-ID")
		if raw == "" {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "X-Actor-ID header is required"))
			return
		}
		actorID, err := id.ParseActorID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		actor := id.Actor{ID: actorID}
		if raw := r.Header.Get("X-Org-ID"); raw != "" {
			orgID, err := id.ParseOrgID(raw)
			if err != nil {
				shared.WriteError(w, err)
				return
			}
			actor.OrgID = orgID
		}
		if raw := r.Header.Get("X-Branch-ID"); raw != "" {
			branchID, err := id.ParseBranchID(raw)
			if err != nil {
				shared.WriteError(w, err)
				return
			}
			actor.BranchID = branchID
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), actor)))
	})
}
