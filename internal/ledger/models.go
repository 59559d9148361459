// Package ledger is the append-only compliance ledger. Every state-changing
// operation in the engine writes exactly one entry per logical change,
// inside the same unit of work as the change itself. Entries are immutable:
// no update or delete operation exists anywhere in this package, and the
// store interface cannot express one.
package ledger

import (
	"encoding/json"
	"time"

	id "custos/pkg/domain"
)

// Entry is one immutable fact about a governed mutation.
type Entry struct {
	ID          id.EntryID      `json:"id"`
	WorkspaceID id.WorkspaceID  `json:"workspace_id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Action      string          `json:"action"`
	ActorID     *id.ActorID     `json:"actor_id,omitempty"` // nil for system actions
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Entity type tags used across the engine.
const (
	EntityWorkspace   = "workspace"
	EntityApproval    = "approval_request"
	EntityChecklist   = "checklist_item"
	EntityEmpanelment = "scheme_empanelment"
	EntityRateCard    = "scheme_rate_card"
	EntityRegistry    = "registry_profile"
	EntityReadiness   = "readiness_score"
	EntitySyncLink    = "sync_link"
)

// Filter narrows a ledger read. Zero values mean "no constraint".
type Filter struct {
	WorkspaceID id.WorkspaceID
	EntityType  string
	EntityID    string
	Action      string
	ActorID     id.ActorID
	From        time.Time
	Until       time.Time
}
