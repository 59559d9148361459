package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custos/internal/transport/http/shared"
	"custos/internal/workspace/models"
	"custos/internal/workspace/service"
	id "custos/pkg/domain"
	"custos/pkg/requestcontext"
)

// WorkspaceHandler serves workspace lifecycle endpoints.
type WorkspaceHandler struct {
	workspaces *service.Service
}

func NewWorkspaceHandler(workspaces *service.Service) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: workspaces}
}

func (h *WorkspaceHandler) Register(r chi.Router) {
	r.Post("/workspaces", h.handleCreate)
	r.Get("/workspaces/{workspaceID}", h.handleGet)
	r.Post("/workspaces/{workspaceID}/clone", h.handleClone)
	r.Post("/workspaces/{workspaceID}/status", h.handleSetStatus)
	r.Get("/orgs/{orgID}/workspaces", h.handleListByOrg)
}

type createWorkspaceRequest struct {
	Kind     string `json:"kind"`
	OrgID    string `json:"org_id"`
	BranchID string `json:"branch_id,omitempty"`
}

func (h *WorkspaceHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createWorkspaceRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	orgID, err := id.ParseOrgID(req.OrgID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var branchID *id.BranchID
	if req.BranchID != "" {
		bid, err := id.ParseBranchID(req.BranchID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		branchID = &bid
	}
	ws, err := h.workspaces.Create(ctx, requestcontext.Actor(ctx), models.Kind(req.Kind), orgID, branchID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, ws)
}

func (h *WorkspaceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	ws, err := h.workspaces.Get(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ws)
}

type cloneRequest struct {
	BranchID string `json:"branch_id"`
}

func (h *WorkspaceHandler) handleClone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req cloneRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	branchID, err := id.ParseBranchID(req.BranchID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	ws, err := h.workspaces.CloneTemplateToBranch(ctx, requestcontext.Actor(ctx), templateID, branchID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, ws)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *WorkspaceHandler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req setStatusRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	ws, err := h.workspaces.SetStatus(ctx, requestcontext.Actor(ctx), wsID, models.Status(req.Status))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ws)
}

func (h *WorkspaceHandler) handleListByOrg(w http.ResponseWriter, r *http.Request) {
	orgID, err := id.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	status := models.Status(r.URL.Query().Get("status"))
	workspaces, err := h.workspaces.ListByOrg(r.Context(), orgID, status)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, workspaces)
}
