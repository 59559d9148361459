package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custos/internal/checklist"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	"custos/pkg/requestcontext"
)

// ChecklistHandler serves compliance checklist endpoints.
type ChecklistHandler struct {
	checklist *checklist.Service
}

func NewChecklistHandler(cl *checklist.Service) *ChecklistHandler {
	return &ChecklistHandler{checklist: cl}
}

func (h *ChecklistHandler) Register(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/checklist", h.handleCreate)
	r.Get("/workspaces/{workspaceID}/checklist", h.handleList)
	r.Post("/checklist/{itemID}/status", h.handleSetStatus)
}

type createItemRequest struct {
	Category         string `json:"category"`
	Code             string `json:"code"`
	Title            string `json:"title"`
	Risk             string `json:"risk"`
	EvidenceRequired bool   `json:"evidence_required"`
	OwnerID          string `json:"owner_id,omitempty"`
}

func (h *ChecklistHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req createItemRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	item := &checklist.Item{
		WorkspaceID:      wsID,
		Category:         req.Category,
		Code:             req.Code,
		Title:            req.Title,
		Risk:             checklist.RiskLevel(req.Risk),
		EvidenceRequired: req.EvidenceRequired,
	}
	if req.OwnerID != "" {
		ownerID, err := id.ParseActorID(req.OwnerID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		item.OwnerID = &ownerID
	}
	created, err := h.checklist.CreateItem(ctx, requestcontext.Actor(ctx), item)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, created)
}

func (h *ChecklistHandler) handleList(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	items, err := h.checklist.List(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, items)
}

type itemStatusRequest struct {
	Status string `json:"status"`
}

// handleSetStatus moves an item through its lifecycle. Verifying a critical
// item answers 202 with the pending approval instead of the item.
func (h *ChecklistHandler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req itemStatusRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	item, pending, err := h.checklist.SetStatus(ctx, requestcontext.Actor(ctx), itemID, checklist.ItemStatus(req.Status))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if pending != nil {
		shared.WriteJSON(w, http.StatusAccepted, pending)
		return
	}
	shared.WriteJSON(w, http.StatusOK, item)
}
