package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custos/internal/evidence"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// EvidenceHandler serves evidence artifact endpoints.
type EvidenceHandler struct {
	evidence *evidence.Service
}

func NewEvidenceHandler(ev *evidence.Service) *EvidenceHandler {
	return &EvidenceHandler{evidence: ev}
}

func (h *EvidenceHandler) Register(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/evidence", h.handleAttach)
	r.Get("/workspaces/{workspaceID}/evidence", h.handleList)
}

type attachRequest struct {
	ItemID    string `json:"item_id,omitempty"`
	Kind      string `json:"kind"`
	URI       string `json:"uri"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (h *EvidenceHandler) handleAttach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req attachRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	var itemID *id.ItemID
	if req.ItemID != "" {
		iid, err := id.ParseItemID(req.ItemID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		itemID = &iid
	}
	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "expires_at must be RFC3339"))
			return
		}
		expiresAt = &t
	}
	artifact, err := h.evidence.Attach(ctx, requestcontext.Actor(ctx), wsID, itemID, req.Kind, req.URI, expiresAt)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, artifact)
}

func (h *EvidenceHandler) handleList(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	artifacts, err := h.evidence.ListByWorkspace(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, artifacts)
}
