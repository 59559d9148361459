package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custos/internal/schemesync"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	"custos/pkg/requestcontext"
)

// SyncHandler serves the operational-store reconciliation endpoints.
type SyncHandler struct {
	reconciler *schemesync.Reconciler
}

func NewSyncHandler(rec *schemesync.Reconciler) *SyncHandler {
	return &SyncHandler{reconciler: rec}
}

func (h *SyncHandler) Register(r chi.Router) {
	r.Post("/empanelments/{empanelmentID}/sync/push", h.handlePush)
	r.Post("/empanelments/{empanelmentID}/sync/pull", h.handlePull)
	r.Post("/empanelments/{empanelmentID}/sync/link", h.handleLink)
	r.Post("/empanelments/{empanelmentID}/sync/unlink", h.handleUnlink)
	r.Get("/workspaces/{workspaceID}/sync/status", h.handleStatus)
}

func (h *SyncHandler) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eid, err := id.ParseEmpanelmentID(chi.URLParam(r, "empanelmentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	report, err := h.reconciler.Push(ctx, requestcontext.Actor(ctx), eid)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *SyncHandler) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eid, err := id.ParseEmpanelmentID(chi.URLParam(r, "empanelmentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	report, err := h.reconciler.Pull(ctx, requestcontext.Actor(ctx), eid)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

type linkRequest struct {
	ExternalID string `json:"external_id"`
}

func (h *SyncHandler) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eid, err := id.ParseEmpanelmentID(chi.URLParam(r, "empanelmentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req linkRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	externalID, err := id.ParseExternalRecordID(req.ExternalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.reconciler.Link(ctx, requestcontext.Actor(ctx), eid, externalID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SyncHandler) handleUnlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eid, err := id.ParseEmpanelmentID(chi.URLParam(r, "empanelmentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.reconciler.Unlink(ctx, requestcontext.Actor(ctx), eid); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SyncHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	report, err := h.reconciler.Status(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}
