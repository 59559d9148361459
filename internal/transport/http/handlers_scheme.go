package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custos/internal/scheme"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// SchemeHandler serves empanelment and rate card endpoints.
type SchemeHandler struct {
	schemes *scheme.Service
}

func NewSchemeHandler(schemes *scheme.Service) *SchemeHandler {
	return &SchemeHandler{schemes: schemes}
}

func (h *SchemeHandler) Register(r chi.Router) {
	r.Post("/workspaces/{workspaceID}/empanelments", h.handleCreateEmpanelment)
	r.Get("/workspaces/{workspaceID}/empanelments", h.handleListEmpanelments)
	r.Post("/empanelments/{empanelmentID}/status", h.handleEmpanelmentStatus)
	r.Post("/workspaces/{workspaceID}/rate-cards", h.handleCreateCard)
	r.Get("/workspaces/{workspaceID}/rate-cards", h.handleListCards)
	r.Get("/rate-cards/{cardID}", h.handleGetCard)
	r.Post("/rate-cards/{cardID}/items", h.handleAddItem)
	r.Post("/rate-cards/{cardID}/status", h.handleCardStatus)
	r.Post("/rate-cards/{cardID}/freeze", h.handleFreeze)
}

type createEmpanelmentRequest struct {
	SchemeCode     string `json:"scheme_code"`
	RegistrationNo string `json:"registration_no"`
	RegistryCode   string `json:"registry_code"`
}

func (h *SchemeHandler) handleCreateEmpanelment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req createEmpanelmentRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	emp, err := h.schemes.CreateEmpanelment(ctx, requestcontext.Actor(ctx), wsID,
		req.SchemeCode, req.RegistrationNo, req.RegistryCode)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, emp)
}

func (h *SchemeHandler) handleListEmpanelments(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	emps, err := h.schemes.ListEmpanelments(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, emps)
}

func (h *SchemeHandler) handleEmpanelmentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eid, err := id.ParseEmpanelmentID(chi.URLParam(r, "empanelmentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req setStatusRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	emp, err := h.schemes.SetEmpanelmentStatus(ctx, requestcontext.Actor(ctx), eid, scheme.EmpanelmentStatus(req.Status))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, emp)
}

type createCardRequest struct {
	SchemeCode string `json:"scheme_code"`
	Version    int    `json:"version"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

func (h *SchemeHandler) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req createCardRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
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
	card, err := h.schemes.CreateCard(ctx, requestcontext.Actor(ctx), wsID, req.SchemeCode, req.Version, expiresAt)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, card)
}

func (h *SchemeHandler) handleListCards(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	cards, err := h.schemes.ListCards(r.Context(), wsID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, cards)
}

type cardResponse struct {
	Card  *scheme.RateCard      `json:"card"`
	Items []scheme.RateCardItem `json:"items"`
}

func (h *SchemeHandler) handleGetCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := id.ParseRateCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	card, items, err := h.schemes.GetCard(r.Context(), cardID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, cardResponse{Card: card, Items: items})
}

type addItemRequest struct {
	ExternalCode string `json:"external_code"`
	Name         string `json:"name"`
	RatePaise    int64  `json:"rate_paise"`
	InternalRef  string `json:"internal_ref,omitempty"`
}

func (h *SchemeHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID, err := id.ParseRateCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req addItemRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	item, err := h.schemes.AddCardItem(ctx, requestcontext.Actor(ctx), cardID,
		req.ExternalCode, req.Name, req.RatePaise, req.InternalRef)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, item)
}

func (h *SchemeHandler) handleCardStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID, err := id.ParseRateCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req setStatusRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	card, err := h.schemes.SetCardStatus(ctx, requestcontext.Actor(ctx), cardID, scheme.CardStatus(req.Status))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, card)
}

// handleFreeze always answers 202: freezing is maker-checker gated.
func (h *SchemeHandler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID, err := id.ParseRateCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	pending, err := h.schemes.FreezeCard(ctx, requestcontext.Actor(ctx), cardID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, pending)
}
