package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custos/internal/registry"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	"custos/pkg/requestcontext"
)

// RegistryHandler serves digital-health registry enrollment endpoints.
type RegistryHandler struct {
	registry *registry.Service
}

func NewRegistryHandler(reg *registry.Service) *RegistryHandler {
	return &RegistryHandler{registry: reg}
}

func (h *RegistryHandler) Register(r chi.Router) {
	r.Put("/workspaces/{workspaceID}/registry/config", h.handleSetConfig)
	r.Get("/workspaces/{workspaceID}/registry/config", h.handleGetConfig)
	r.Post("/workspaces/{workspaceID}/registry/rotate-secret", h.handleRotateSecret)
	r.Put("/workspaces/{workspaceID}/registry/profile", h.handleSaveProfile)
	r.Get("/workspaces/{workspaceID}/registry/profile", h.handleGetProfile)
	r.Post("/workspaces/{workspaceID}/registry/professionals", h.handleAddProfessional)
	r.Get("/workspaces/{workspaceID}/registry/professionals", h.handleListProfessionals)
}

type registryConfigRequest struct {
	FacilityCode      string `json:"facility_code"`
	Endpoint          string `json:"endpoint"`
	CallbackSecretRef string `json:"callback_secret_ref,omitempty"`
}

func (h *RegistryHandler) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req registryConfigRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	cfg, err := h.registry.SetConfig(ctx, requestcontext.Actor(ctx), &registry.Config{
		WorkspaceID:       wsID,
		FacilityCode:      req.FacilityCode,
		Endpoint:          req.Endpoint,
		CallbackSecretRef: req.CallbackSecretRef,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, cfg)
}

func (h *RegistryHandler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	cfg, err := h.registry.GetConfig(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, cfg)
}

type rotateSecretRequest struct {
	SecretRef string `json:"secret_ref"`
}

func (h *RegistryHandler) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req rotateSecretRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	pending, err := h.registry.RotateSecret(ctx, requestcontext.Actor(ctx), wsID, req.SecretRef)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, pending)
}

type profileRequest struct {
	FacilityName string `json:"facility_name"`
	FacilityType string `json:"facility_type"`
	Address      string `json:"address"`
	District     string `json:"district"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
	Submitted    bool   `json:"submitted"`
}

func (h *RegistryHandler) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req profileRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	profile, err := h.registry.SaveProfile(ctx, requestcontext.Actor(ctx), &registry.Profile{
		WorkspaceID:  wsID,
		FacilityName: req.FacilityName,
		FacilityType: req.FacilityType,
		Address:      req.Address,
		District:     req.District,
		State:        req.State,
		Pincode:      req.Pincode,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Submitted:    req.Submitted,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

func (h *RegistryHandler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	profile, err := h.registry.GetProfile(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

type professionalRequest struct {
	RegistryRef string `json:"registry_ref"`
	Name        string `json:"name"`
	Role        string `json:"role"`
}

func (h *RegistryHandler) handleAddProfessional(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req professionalRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	rec, err := h.registry.AddProfessionalRecord(ctx, requestcontext.Actor(ctx), &registry.ProfessionalRecord{
		WorkspaceID: wsID,
		RegistryRef: req.RegistryRef,
		Name:        req.Name,
		Role:        req.Role,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, rec)
}

func (h *RegistryHandler) handleListProfessionals(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	records, err := h.registry.ListProfessionalRecords(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, records)
}
