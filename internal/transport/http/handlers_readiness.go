package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custos/internal/readiness"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	"custos/pkg/requestcontext"
)

// ReadinessHandler serves readiness scoring endpoints.
type ReadinessHandler struct {
	validator *readiness.Validator
}

func NewReadinessHandler(v *readiness.Validator) *ReadinessHandler {
	return &ReadinessHandler{validator: v}
}

func (h *ReadinessHandler) Register(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/readiness/run", h.handleRun)
	r.Get("/workspaces/{workspaceID}/readiness", h.handleLatest)
	r.Get("/workspaces/{workspaceID}/readiness/export", h.handleExport)
}

func (h *ReadinessHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.validator.Run(ctx, requestcontext.Actor(ctx), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *ReadinessHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	result, err := h.validator.Latest(ctx, requestcontext.Actor(ctx), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *ReadinessHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	snapshot, err := h.validator.Export(ctx, requestcontext.Actor(ctx), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="readiness-report.json"`)
	shared.WriteJSON(w, http.StatusOK, snapshot)
}
