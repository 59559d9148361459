package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custos/internal/ledger"
	"custos/internal/transport/http/shared"
	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
)

// LedgerHandler serves read access to the audit ledger.
type LedgerHandler struct {
	ledger *ledger.Service
}

func NewLedgerHandler(led *ledger.Service) *LedgerHandler {
	return &LedgerHandler{ledger: led}
}

func (h *LedgerHandler) Register(r chi.Router) {
	r.Get("/workspaces/{workspaceID}/ledger", h.handleList)
}

func (h *LedgerHandler) handleList(w http.ResponseWriter, r *http.Request) {
	wsID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ledger.Filter{
		WorkspaceID: wsID,
		EntityType:  q.Get("entity_type"),
		EntityID:    q.Get("entity_id"),
		Action:      q.Get("action"),
	}
	if raw := q.Get("actor_id"); raw != "" {
		actorID, err := id.ParseActorID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		filter.ActorID = actorID
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC3339"))
			return
		}
		filter.From = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "until must be RFC3339"))
			return
		}
		filter.Until = t
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer"))
			return
		}
	}
	page, err := h.ledger.List(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, page)
}
