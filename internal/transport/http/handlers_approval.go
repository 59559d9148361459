package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custos/internal/approval"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// ApprovalHandler serves the maker-checker workflow endpoints.
type ApprovalHandler struct {
	approvals *approval.Service
}

func NewApprovalHandler(approvals *approval.Service) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

func (h *ApprovalHandler) Register(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/approvals", h.handleCreate)
	r.Get("/workspaces/{workspaceID}/approvals/pending", h.handleListPending)
	r.Get("/approvals/{approvalID}", h.handleGet)
	r.Post("/approvals/{approvalID}/submit", h.handleSubmit)
	r.Post("/approvals/{approvalID}/decide", h.handleDecide)
	r.Post("/approvals/{approvalID}/retry", h.handleRetry)
}

type createApprovalRequest struct {
	ChangeType string          `json:"change_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (h *ApprovalHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req createApprovalRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	request, err := h.approvals.Create(ctx, requestcontext.Actor(ctx), wsID, req.ChangeType,
		approval.EntityRef{Type: req.EntityType, ID: req.EntityID}, req.Payload)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, request)
}

func (h *ApprovalHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	request, err := h.approvals.Get(r.Context(), approvalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

func (h *ApprovalHandler) handleListPending(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	requests, err := h.approvals.ListPending(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, requests)
}

func (h *ApprovalHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	request, err := h.approvals.Submit(ctx, requestcontext.Actor(ctx), approvalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

type decideRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

func (h *ApprovalHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req decideRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	decision := approval.Decision(req.Decision)
	if decision != approval.DecisionApproved && decision != approval.DecisionRejected {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "decision must be APPROVED or REJECTED"))
		return
	}
	request, err := h.approvals.Decide(ctx, requestcontext.Actor(ctx), approvalID, decision, req.Notes)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

func (h *ApprovalHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	request, err := h.approvals.RetryExecution(ctx, requestcontext.Actor(ctx), approvalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}
